// Package llm provides the chat-completion backends the analyzer talks to.
package llm

import (
	"context"
	"fmt"
	"time"
)

// LLM is a single-turn chat completion backend.
type LLM interface {
	Chat(ctx context.Context, prompt string) (string, error)
	Model() string
}

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxTokens   = 2000
	defaultTemperature = 0.1
)

// APIError is a non-2xx reply from a provider.
type APIError struct {
	Provider   Provider
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}
