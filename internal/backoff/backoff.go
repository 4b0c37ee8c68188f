// Package backoff retries a dial with capped exponential delays.
//
// The caller decides what a failure means: a Retrier only counts failed
// attempts and hands each one to an optional callback before waiting.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrExhausted is returned by Do when the retry budget is spent. It wraps
// the last attempt's error.
var ErrExhausted = errors.New("backoff: retries exhausted")

// Config bounds a Retrier.
type Config struct {
	MaxRetries    int           // failed attempts tolerated after the first; 0 retries until ctx ends
	RetryDelay    time.Duration // wait after the first failure (default 1s)
	MaxRetryDelay time.Duration // wait cap (default 30s)
}

// DefaultConfig gives up after five retries, waiting 1s, 2s, 4s, 8s, 16s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Attempt describes one failed try.
type Attempt struct {
	N    int           // 1-based within the current Do call
	Err  error         // what the try returned
	Wait time.Duration // delay before the next try; 0 when giving up
}

// Retrier runs a function until it succeeds. Its failure counter spans every
// Do call, so one Retrier can serve every redial of a long-lived handle.
type Retrier struct {
	cfg       Config
	onFailure func(Attempt)
	failures  atomic.Uint32
}

// New returns a Retrier. Non-positive delays take their defaults and a cap
// below RetryDelay is raised to it. onFailure may be nil.
func New(cfg Config, onFailure func(Attempt)) *Retrier {
	def := DefaultConfig()
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	return &Retrier{cfg: cfg, onFailure: onFailure}
}

// Do calls fn until it returns nil, ctx ends or the budget is spent.
// Returns nil, ctx.Err() or an error wrapping ErrExhausted.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		r.failures.Add(1)

		a := Attempt{N: n, Err: err}
		if r.cfg.MaxRetries > 0 && n > r.cfg.MaxRetries {
			r.notify(a)
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, n, err)
		}
		a.Wait = Delay(n, r.cfg)
		r.notify(a)

		t := time.NewTimer(a.Wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// Failures is the number of failed attempts over the Retrier's lifetime.
func (r *Retrier) Failures() uint32 { return r.failures.Load() }

func (r *Retrier) notify(a Attempt) {
	if r.onFailure != nil {
		r.onFailure(a)
	}
}

// Delay is the wait after the given failed attempt (1-based):
// RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Past 2^30 the cap always wins; avoid overflowing the shift.
	if attempt > 31 {
		return cfg.MaxRetryDelay
	}
	d := cfg.RetryDelay << uint(attempt-1)
	if d > cfg.MaxRetryDelay || d <= 0 {
		return cfg.MaxRetryDelay
	}
	return d
}
