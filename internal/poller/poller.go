// Package poller periodically fetches setting entries from a remote or local
// source, validates them and publishes each accepted list on a channel that an
// engine can watch.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/loader"
)

var (
	ErrNoFetch            = errors.New("poller requires a fetch function")
	ErrNoSchedule         = errors.New("poller requires an interval or a cron schedule")
	ErrEmptyConfiguration = errors.New("unexpected empty configuration")
	ErrAlreadyRunning     = errors.New("poller is already running or has stopped")
)

const errorBuffer = 16

// FetchFunc returns the current entry list.
type FetchFunc func(ctx context.Context) ([]core.Entry, error)

// Poller fetches entries on a fixed interval or a cron schedule.
type Poller struct {
	fetch     FetchFunc
	interval  time.Duration
	schedule  string
	validator *loader.Validator
	logger    *slog.Logger

	updates chan []core.Entry
	errors  chan error
	trigger chan struct{}
	started atomic.Bool
}

// Option configures a [Poller].
type Option func(*Poller)

// WithInterval polls every interval.
func WithInterval(interval time.Duration) Option {
	return func(p *Poller) {
		p.interval = interval
	}
}

// WithSchedule polls on a standard five-field cron expression. It takes
// precedence over WithInterval.
func WithSchedule(spec string) Option {
	return func(p *Poller) {
		p.schedule = spec
	}
}

// WithValidator rejects fetched entry lists that fail validation.
func WithValidator(validator *loader.Validator) Option {
	return func(p *Poller) {
		p.validator = validator
	}
}

// WithLogger sets the poller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a poller. It does not fetch until [Poller.Run] is called.
func New(fetch FetchFunc, opts ...Option) (*Poller, error) {
	if fetch == nil {
		return nil, ErrNoFetch
	}

	p := &Poller{
		fetch:   fetch,
		logger:  slog.Default(),
		updates: make(chan []core.Entry),
		errors:  make(chan error, errorBuffer),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.schedule != "" {
		if _, err := cron.ParseStandard(p.schedule); err != nil {
			return nil, fmt.Errorf("invalid cron schedule %q: %w", p.schedule, err)
		}
	} else if p.interval <= 0 {
		return nil, ErrNoSchedule
	}

	return p, nil
}

// Updates delivers every accepted entry list. It is closed when Run returns.
func (p *Poller) Updates() <-chan []core.Entry {
	return p.updates
}

// Errors delivers fetch and validation failures. Failures are dropped when
// nobody drains the channel.
func (p *Poller) Errors() <-chan error {
	return p.errors
}

// Trigger requests a poll as soon as possible.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done. A Poller runs once: later calls return
// ErrAlreadyRunning.
func (p *Poller) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(p.updates)

	var tick <-chan time.Time
	if p.schedule != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(p.schedule, p.Trigger); err != nil {
			return fmt.Errorf("schedule poll: %w", err)
		}
		scheduler.Start()
		defer func() {
			<-scheduler.Stop().Done()
		}()
		p.logger.Info("poller started", "schedule", p.schedule)
	} else {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
		p.logger.Info("poller started", "interval", p.interval)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-p.trigger:
		}

		_ = p.Poll(ctx)
	}
}

// Poll fetches once, validates and publishes the result. Failures are
// returned and also sent on Errors.
func (p *Poller) Poll(ctx context.Context) error {
	entries, err := p.fetchValid(ctx)
	if err != nil {
		p.report(err)
		return err
	}

	select {
	case p.updates <- entries:
		p.logger.Debug("poller published update", "entries", len(entries))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) fetchValid(ctx context.Context) ([]core.Entry, error) {
	entries, err := p.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch settings: %w", err)
	}
	if entries == nil {
		return nil, ErrEmptyConfiguration
	}

	if p.validator != nil {
		if err := p.validator.ValidateEntries(entries).Err(); err != nil {
			return nil, fmt.Errorf("invalid configuration received: %w", err)
		}
	}

	return entries, nil
}

func (p *Poller) report(err error) {
	select {
	case p.errors <- err:
	default:
		p.logger.Warn("poller error dropped", "error", err)
	}
}
