package framesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
)

// SourceInfo describes one discoverable source.
type SourceInfo struct {
	Name    string `json:"name" msgpack:"name"`
	Address string `json:"address" msgpack:"address"`
	Kind    string `json:"kind" msgpack:"kind"`
}

// Finder discovers sources of one kind.
type Finder interface {
	// Sources returns the sources currently visible.
	Sources(ctx context.Context) ([]SourceInfo, error)

	// Close releases discovery resources.
	Close() error
}

// Environment owns the process' discovery resources.
//
// It is created explicitly, passed to whoever needs discovery and closed by
// its owner. There is no process-wide instance.
type Environment struct {
	mu      sync.Mutex
	finders []Finder
	closed  bool
}

// NewEnvironment creates an environment over the given finders. The
// environment takes ownership of them and closes them on Close.
func NewEnvironment(finders ...Finder) *Environment {
	return &Environment{finders: finders}
}

// Sources aggregates the sources seen by every finder, in finder order.
//
// A failing finder is logged and skipped. The call fails only if every
// finder failed.
func (e *Environment) Sources(ctx context.Context) ([]SourceInfo, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEnvironmentClosed
	}
	finders := append([]Finder(nil), e.finders...)
	e.mu.Unlock()

	var (
		all  []SourceInfo
		errs []error
	)
	for _, f := range finders {
		found, err := f.Sources(ctx)
		if err != nil {
			slog.Warn("framesource: finder failed", "error", err)
			errs = append(errs, err)
			continue
		}
		all = append(all, found...)
	}
	if len(finders) > 0 && len(errs) == len(finders) {
		return nil, fmt.Errorf("framesource: discovery failed: %w", errors.Join(errs...))
	}
	return all, nil
}

// Lookup resolves a source by exact name, or by its zero-based index in the
// Sources list when nameOrIndex is a number.
func (e *Environment) Lookup(ctx context.Context, nameOrIndex string) (SourceInfo, error) {
	all, err := e.Sources(ctx)
	if err != nil {
		return SourceInfo{}, err
	}
	for _, s := range all {
		if s.Name == nameOrIndex {
			return s, nil
		}
	}
	if i, err := strconv.Atoi(nameOrIndex); err == nil && i >= 0 && i < len(all) {
		return all[i], nil
	}
	return SourceInfo{}, fmt.Errorf("%w: %q", ErrSourceNotFound, nameOrIndex)
}

// Close tears down every finder in reverse order. Idempotent; later calls to
// Sources or Lookup return ErrEnvironmentClosed.
func (e *Environment) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	finders := e.finders
	e.finders = nil
	e.mu.Unlock()

	var errs []error
	for i := len(finders) - 1; i >= 0; i-- {
		if err := finders[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	slog.Debug("framesource: environment closed", "finders", len(finders))
	return errors.Join(errs...)
}

// StaticFinder reports a fixed list of configured sources.
type StaticFinder struct {
	list []SourceInfo
}

// NewStaticFinder returns a finder over a copy of list.
func NewStaticFinder(list ...SourceInfo) *StaticFinder {
	return &StaticFinder{list: append([]SourceInfo(nil), list...)}
}

// Sources returns the configured list.
func (f *StaticFinder) Sources(ctx context.Context) ([]SourceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]SourceInfo(nil), f.list...), nil
}

// Close is a no-op.
func (f *StaticFinder) Close() error { return nil }
