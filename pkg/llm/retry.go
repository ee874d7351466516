package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries = 3
	defaultRateLimit  = 2 // requests per second
	defaultBurst      = 2
	defaultMaxElapsed = 2 * time.Minute
	initialRetryDelay = time.Second
)

type RetryOption func(*Retrying)

func WithMaxRetries(n uint64) RetryOption {
	return func(r *Retrying) { r.maxRetries = n }
}

func WithInitialInterval(d time.Duration) RetryOption {
	return func(r *Retrying) { r.initial = d }
}

func WithRateLimit(limit rate.Limit, burst int) RetryOption {
	return func(r *Retrying) { r.limiter = rate.NewLimiter(limit, burst) }
}

func WithRetryLogger(l *zap.Logger) RetryOption {
	return func(r *Retrying) { r.logger = l }
}

// Retrying wraps an LLM with client-side rate limiting and bounded retry on
// rate-limit, server and timeout errors.
type Retrying struct {
	next       LLM
	limiter    *rate.Limiter
	maxRetries uint64
	initial    time.Duration
	logger     *zap.Logger
}

func NewRetrying(next LLM, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:       next,
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: defaultMaxRetries,
		initial:    initialRetryDelay,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrying) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initial
	bo.MaxElapsedTime = defaultMaxElapsed
	return backoff.WithMaxRetries(bo, r.maxRetries)
}

func (r *Retrying) Chat(ctx context.Context, prompt string) (string, error) {
	var reply string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		out, err := r.next.Chat(ctx, prompt)
		if err == nil {
			reply = out
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("collaborator call failed, retrying",
			zap.String("model", r.next.Model()), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(r.newBackoff(), ctx))
	if err != nil {
		if attempt > 1 {
			return "", fmt.Errorf("failed after %d attempts: %w", attempt, err)
		}
		return "", err
	}
	return reply, nil
}

func (r *Retrying) Model() string {
	return r.next.Model()
}

// IsRetryable reports rate-limit, server-side and network timeout errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var sdkErr *anthropic.Error
	if errors.As(err, &sdkErr) {
		return sdkErr.StatusCode == 429 || sdkErr.StatusCode >= 500
	}
	return false
}
