// Package engine holds the active entry snapshot for a rule set and resolves
// it into [settings.Config] values. The snapshot is swapped atomically, so
// resolutions running during an update see either the old or the new entries.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/settings"
)

// Engine resolves a rule set. It is safe for concurrent use.
type Engine struct {
	evaluator *core.Evaluator
	snapshot  atomic.Pointer[core.Snapshot]
	logger    *slog.Logger

	evaluatorOpts []core.Option
}

// Option configures an [Engine].
type Option func(*Engine)

// WithEvaluators registers custom evaluators.
func WithEvaluators(evaluators core.Evaluators) Option {
	return func(e *Engine) {
		e.evaluatorOpts = append(e.evaluatorOpts, core.WithEvaluators(evaluators))
	}
}

// WithRandomSource replaces the source used by randomPercentage dimensions.
func WithRandomSource(random core.RandomSource) Option {
	return func(e *Engine) {
		e.evaluatorOpts = append(e.evaluatorOpts, core.WithRandomSource(random))
	}
}

// WithLogger sets the logger used for update events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New prepares entries and validates custom evaluators.
func New(entries []core.Entry, opts ...Option) (*Engine, error) {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	evaluator, err := core.NewEvaluator(e.evaluatorOpts...)
	if err != nil {
		return nil, err
	}
	e.evaluator = evaluator
	e.evaluatorOpts = nil
	e.snapshot.Store(core.NewSnapshot(entries))

	return e, nil
}

// Resolve runs a resolution pass over the current snapshot.
func (e *Engine) Resolve(ctx core.Context, overrides core.Overrides) (core.Resolution, error) {
	return e.evaluator.Resolve(e.snapshot.Load(), ctx, overrides)
}

// ResolveConfig resolves the current snapshot and wraps the result.
func (e *Engine) ResolveConfig(ctx core.Context, overrides core.Overrides) (*settings.Config, error) {
	resolution, err := e.Resolve(ctx, overrides)
	if err != nil {
		return nil, err
	}

	return settings.New(resolution), nil
}

// Update replaces the entries. Templates are compiled before the swap.
func (e *Engine) Update(entries []core.Entry) {
	e.snapshot.Store(core.NewSnapshot(entries))
}

// Snapshot returns the active snapshot.
func (e *Engine) Snapshot() *core.Snapshot {
	return e.snapshot.Load()
}

// Watch applies every entry list received on updates until ctx is done or
// updates is closed.
func (e *Engine) Watch(ctx context.Context, updates <-chan []core.Entry) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entries, ok := <-updates:
			if !ok {
				return nil
			}
			e.Update(entries)
			e.logger.Debug("settings updated", "entries", len(entries))
		}
	}
}
