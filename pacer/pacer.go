// Package pacer releases buffered frames to the presentation sink on a fixed
// clock, independent of network arrival jitter.
//
// State machine, one step per clock tick:
//
//	warming-up --occupancy >= threshold--> steady (and drain this tick)
//	steady     --PopOldest empty--------> warming-up (underrun, nothing shown)
//
// While warming up nothing is presented and the sink keeps showing whatever
// it showed last. Warm-up refills the buffer after every underrun, trading a
// short freeze for smooth playback afterwards.
package pacer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

var ErrInvalidConfig = errors.New("pacer: invalid config")

// Defaults.
const (
	DefaultTargetRate      = 30.0
	DefaultWarmupThreshold = 3
)

// Buffer is the consumer side of the frame ring.
type Buffer interface {
	Occupancy() int
	PopOldest() (video.PixelFrame, bool)
}

// Presenter displays one frame. Present runs on the pacer goroutine and
// must not block for longer than a tick.
type Presenter interface {
	Present(frame video.PixelFrame)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(video.PixelFrame)

// Present calls f(frame).
func (f PresenterFunc) Present(frame video.PixelFrame) { f(frame) }

// Config configures the pacer.
type Config struct {
	// TargetRate is the display rate in Hz used by Run's internal ticker.
	TargetRate float64

	// WarmupThreshold is the occupancy required to leave warm-up. >= 1.
	WarmupThreshold int
}

// State is the pacer state.
type State int32

const (
	StateWarmingUp State = iota
	StateSteady
)

// String returns a human-readable name of the state
func (s State) String() string {
	switch s {
	case StateWarmingUp:
		return "warming-up"
	case StateSteady:
		return "steady"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats is a snapshot of pacer counters.
type Stats struct {
	State         string    `json:"state" msgpack:"state"`
	Ticks         uint64    `json:"ticks" msgpack:"ticks"`
	Delivered     uint64    `json:"delivered" msgpack:"delivered"`
	IdleTicks     uint64    `json:"idle_ticks" msgpack:"idle_ticks"`
	Underruns     uint64    `json:"underruns" msgpack:"underruns"`
	WarmupEntries uint64    `json:"warmup_entries" msgpack:"warmup_entries"`
	LastSeq       uint64    `json:"last_seq" msgpack:"last_seq"`
	LastPresented time.Time `json:"last_presented" msgpack:"last_presented"`
}

// Pacer drains a Buffer into a Presenter.
//
// Thread-safety: Tick must be called from one goroutine at a time (Run does
// this). State and Stats are safe from any goroutine.
type Pacer struct {
	buf  Buffer
	sink Presenter
	cfg  Config

	tickMu sync.Mutex
	state  atomic.Int32

	ticks         atomic.Uint64
	delivered     atomic.Uint64
	idle          atomic.Uint64
	underruns     atomic.Uint64
	warmupEntries atomic.Uint64
	lastSeq       atomic.Uint64
	lastPresented atomic.Int64
}

// New validates cfg and returns a pacer in the warming-up state.
//
// Zero TargetRate and WarmupThreshold take their defaults (30 Hz, 3).
// TargetRate must be finite, and its period must be at least 1ns.
func New(buf Buffer, sink Presenter, cfg Config) (*Pacer, error) {
	if buf == nil || sink == nil {
		return nil, fmt.Errorf("%w: buffer and sink are required", ErrInvalidConfig)
	}
	if cfg.TargetRate == 0 {
		cfg.TargetRate = DefaultTargetRate
	}
	if cfg.WarmupThreshold == 0 {
		cfg.WarmupThreshold = DefaultWarmupThreshold
	}
	if !(cfg.TargetRate > 0) || math.IsInf(cfg.TargetRate, 0) || tickInterval(cfg.TargetRate) <= 0 {
		return nil, fmt.Errorf("%w: target rate %v", ErrInvalidConfig, cfg.TargetRate)
	}
	if cfg.WarmupThreshold < 1 {
		return nil, fmt.Errorf("%w: warm-up threshold %d", ErrInvalidConfig, cfg.WarmupThreshold)
	}

	p := &Pacer{buf: buf, sink: sink, cfg: cfg}
	p.state.Store(int32(StateWarmingUp))
	p.warmupEntries.Store(1)
	return p, nil
}

// Tick performs one state-machine step and reports whether a frame was
// presented.
func (p *Pacer) Tick() bool {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	p.ticks.Add(1)

	if State(p.state.Load()) == StateWarmingUp {
		occupancy := p.buf.Occupancy()
		if occupancy < p.cfg.WarmupThreshold {
			p.idle.Add(1)
			return false
		}
		p.state.Store(int32(StateSteady))
		slog.Debug("pacer: warm-up complete",
			"occupancy", occupancy,
			"threshold", p.cfg.WarmupThreshold,
		)
	}

	frame, ok := p.buf.PopOldest()
	if !ok {
		p.state.Store(int32(StateWarmingUp))
		p.underruns.Add(1)
		p.warmupEntries.Add(1)
		p.idle.Add(1)
		slog.Debug("pacer: underrun, warming up",
			"underruns", p.underruns.Load(),
			"threshold", p.cfg.WarmupThreshold,
		)
		return false
	}

	p.sink.Present(frame)
	p.delivered.Add(1)
	p.lastSeq.Store(frame.Seq())
	p.lastPresented.Store(time.Now().UnixNano())
	return true
}

// Run ticks on every value received from clock until ctx is cancelled or
// clock is closed. A nil clock uses an internal ticker at TargetRate.
//
// Returns ctx.Err() on cancellation and nil when the clock closes.
func (p *Pacer) Run(ctx context.Context, clock <-chan time.Time) error {
	if clock == nil {
		ticker := time.NewTicker(tickInterval(p.cfg.TargetRate))
		defer ticker.Stop()
		clock = ticker.C
	}

	slog.Info("pacer: started",
		"target_rate", p.cfg.TargetRate,
		"warmup_threshold", p.cfg.WarmupThreshold,
	)
	defer func() {
		s := p.Stats()
		slog.Info("pacer: stopped",
			"ticks", s.Ticks,
			"delivered", s.Delivered,
			"underruns", s.Underruns,
		)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-clock:
			if !ok {
				return nil
			}
			p.Tick()
		}
	}
}

// State returns the current state.
func (p *Pacer) State() State {
	return State(p.state.Load())
}

// Config returns the effective configuration.
func (p *Pacer) Config() Config {
	return p.cfg
}

// Stats returns a counter snapshot.
func (p *Pacer) Stats() Stats {
	var last time.Time
	if ns := p.lastPresented.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		State:         p.State().String(),
		Ticks:         p.ticks.Load(),
		Delivered:     p.delivered.Load(),
		IdleTicks:     p.idle.Load(),
		Underruns:     p.underruns.Load(),
		WarmupEntries: p.warmupEntries.Load(),
		LastSeq:       p.lastSeq.Load(),
		LastPresented: last,
	}
}

// tickInterval is the clock period for rate, truncated to whole nanoseconds.
func tickInterval(rate float64) time.Duration {
	return time.Duration(float64(time.Second) / rate)
}
