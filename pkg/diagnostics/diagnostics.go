// Package diagnostics gathers a read-only snapshot of the machine for the
// collaborator. Modules run concurrently; a module that fails contributes an
// error entry instead of failing the snapshot.
package diagnostics

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Module collects one section of the snapshot.
type Module interface {
	Name() string
	Description() string
	Collect(ctx context.Context) (map[string]any, error)
}

// ProgressFunc is called as each module starts.
type ProgressFunc func(name, description string)

type Snapshot struct {
	Timestamp time.Time                 `json:"timestamp" yaml:"timestamp"`
	Platform  string                    `json:"platform" yaml:"platform"`
	Modules   map[string]map[string]any `json:"modules" yaml:"modules"`
}

// Errors lists the modules that failed, sorted by name.
func (s *Snapshot) Errors() []string {
	var failed []string
	for name, data := range s.Modules {
		if _, ok := data["error"]; ok {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

type Collector struct {
	logger      *zap.Logger
	progress    ProgressFunc
	concurrency int
}

type Option func(*Collector)

func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

func WithProgress(fn ProgressFunc) Option {
	return func(c *Collector) { c.progress = fn }
}

// WithConcurrency bounds how many modules run at once.
func WithConcurrency(n int) Option {
	return func(c *Collector) { c.concurrency = n }
}

func NewCollector(opts ...Option) *Collector {
	c := &Collector{logger: zap.NewNop(), concurrency: 4}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect runs modules and assembles the snapshot. It only returns an error
// when ctx is cancelled.
func (c *Collector) Collect(ctx context.Context, modules ...Module) (*Snapshot, error) {
	snap := &Snapshot{
		Timestamp: time.Now().UTC(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Modules:   make(map[string]map[string]any, len(modules)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for _, m := range modules {
		g.Go(func() error {
			if c.progress != nil {
				c.progress(m.Name(), m.Description())
			}
			start := time.Now()
			data, err := m.Collect(gctx)
			if err != nil {
				c.logger.Warn("diagnostics module failed", zap.String("module", m.Name()), zap.Error(err))
				data = map[string]any{"error": err.Error()}
			} else {
				c.logger.Debug("diagnostics module done", zap.String("module", m.Name()), zap.Duration("duration", time.Since(start)))
			}
			mu.Lock()
			snap.Modules[m.Name()] = data
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return snap, fmt.Errorf("collect diagnostics: %w", err)
	}
	return snap, nil
}

// Select resolves module names against available. An empty list selects
// everything in available order.
func Select(available []Module, names []string) ([]Module, error) {
	if len(names) == 0 {
		return available, nil
	}
	byName := make(map[string]Module, len(available))
	for _, m := range available {
		byName[m.Name()] = m
	}
	var out []Module
	for _, n := range names {
		m, ok := byName[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown diagnostics module %q (available: %s)", n, strings.Join(Names(available), ", "))
		}
		out = append(out, m)
	}
	return out, nil
}

func Names(modules []Module) []string {
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = m.Name()
	}
	return names
}
