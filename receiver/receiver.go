// Package receiver runs the network receive loop: it polls a connected frame
// source, normalizes every raw frame to BGRA and pushes the result into the
// frame ring.
//
// Lifecycle (one-directional):
//
//	New        connect; failure is returned once, never retried
//	Start/Run  connected → running, loop goroutine polls with a short timeout
//	Stop       running → stopped, waits for the loop
//	loop exit  stopped; the loop goroutine disconnects the source itself,
//	           whether it saw Stop or ctx cancellation
//
// Inside the loop nothing is fatal. Poll timeouts are normal, receive errors
// and normalization failures are counted and skipped, overflow is handled by
// the ring's policy.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/denisgrzechnik/LayerMapper-NDI/framesource"
	"github.com/denisgrzechnik/LayerMapper-NDI/internal/arrival"
	"github.com/denisgrzechnik/LayerMapper-NDI/internal/errclass"
	"github.com/denisgrzechnik/LayerMapper-NDI/normalize"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

var (
	ErrAlreadyStarted = errors.New("receiver: loop already started")
	ErrStopped        = errors.New("receiver: loop stopped")
)

// DefaultPollTimeout is the per-poll wait. It also bounds how long Stop waits
// for the loop to notice the stop request.
const DefaultPollTimeout = time.Millisecond

// failureLogEvery is the sampling interval for normalization failure logs.
const failureLogEvery = 100

// Pusher is the producer side of the frame ring.
type Pusher interface {
	// Push inserts a frame and returns how many buffered frames it evicted.
	Push(frame video.PixelFrame) int
}

// Config configures the loop.
type Config struct {
	// SourceID is passed to Source.Connect.
	SourceID string

	// PollTimeout is the maximum wait per poll (default 1ms).
	PollTimeout time.Duration

	// Normalize configures output frame layout.
	Normalize normalize.Options

	// ArrivalWindow is the number of timestamps used for FPS/jitter
	// statistics (default arrival.DefaultWindow).
	ArrivalWindow int

	// StopTimeout bounds how long Stop waits for the loop (default 3s).
	StopTimeout time.Duration
}

// State is the loop lifecycle state.
type State int32

const (
	StateConnected State = iota
	StateRunning
	StateStopped
)

// String returns a human-readable name of the state
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrorCounts counts receive errors by category.
type ErrorCounts struct {
	Network uint64 `json:"network" msgpack:"network"`
	Codec   uint64 `json:"codec" msgpack:"codec"`
	Auth    uint64 `json:"auth" msgpack:"auth"`
	Unknown uint64 `json:"unknown" msgpack:"unknown"`
}

// Total is the sum over every category.
func (c ErrorCounts) Total() uint64 {
	return c.Network + c.Codec + c.Auth + c.Unknown
}

// Stats is a snapshot of loop counters.
type Stats struct {
	SourceID       string          `json:"source_id" msgpack:"source_id"`
	State          string          `json:"state" msgpack:"state"`
	Polls          uint64          `json:"polls" msgpack:"polls"`
	Timeouts       uint64          `json:"timeouts" msgpack:"timeouts"`
	ReceiveErrors  ErrorCounts     `json:"receive_errors" msgpack:"receive_errors"`
	FramesReceived uint64          `json:"frames_received" msgpack:"frames_received"`
	Normalize      normalize.Stats `json:"normalize" msgpack:"normalize"`
	FramesPushed   uint64          `json:"frames_pushed" msgpack:"frames_pushed"`
	FramesEvicted  uint64          `json:"frames_evicted" msgpack:"frames_evicted"`
	LastFrameAt    time.Time       `json:"last_frame_at" msgpack:"last_frame_at"`
	Arrival        arrival.Stats   `json:"arrival" msgpack:"arrival"`
}

// Loop owns one connected source handle and the goroutine polling it.
type Loop struct {
	cfg    Config
	handle framesource.Handle
	ring   Pusher
	norm   *normalize.Normalizer
	window *arrival.Window

	mu       sync.Mutex
	state    atomic.Int32
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error

	releaseOnce sync.Once
	releaseErr  error

	seq         atomic.Uint64
	polls       atomic.Uint64
	timeouts    atomic.Uint64
	errNetwork  atomic.Uint64
	errCodec    atomic.Uint64
	errAuth     atomic.Uint64
	errUnknown  atomic.Uint64
	received    atomic.Uint64
	pushed      atomic.Uint64
	evicted     atomic.Uint64
	lastFrameAt atomic.Int64 // unix nanos
}

// New connects to the source and returns a loop in the connected state.
//
// Validates configuration at construction time (fail-fast):
//   - src and ring must be non-nil
//   - PollTimeout must not be negative
//
// A connection failure is logged once and returned wrapping
// framesource.ErrConnect. The loop instance is then unusable; retrying is
// the caller's decision.
func New(ctx context.Context, src framesource.Source, ring Pusher, cfg Config) (*Loop, error) {
	if src == nil {
		return nil, fmt.Errorf("receiver: source is required")
	}
	if ring == nil {
		return nil, fmt.Errorf("receiver: ring is required")
	}
	if cfg.PollTimeout < 0 {
		return nil, fmt.Errorf("receiver: invalid poll timeout %s", cfg.PollTimeout)
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 3 * time.Second
	}

	handle, err := src.Connect(ctx, cfg.SourceID)
	if err != nil {
		if !errors.Is(err, framesource.ErrConnect) {
			err = fmt.Errorf("%w: %w", framesource.ErrConnect, err)
		}
		slog.Error("receiver: connection failed",
			"source_id", cfg.SourceID,
			"error", err,
		)
		return nil, err
	}

	l := &Loop{
		cfg:    cfg,
		handle: handle,
		ring:   ring,
		norm:   normalize.New(cfg.Normalize),
		window: arrival.NewWindow(cfg.ArrivalWindow),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.state.Store(int32(StateConnected))

	slog.Info("receiver: connected",
		"source_id", cfg.SourceID,
		"poll_timeout", cfg.PollTimeout,
	)
	return l, nil
}

// Start spawns the loop goroutine and returns immediately.
func (l *Loop) Start(ctx context.Context) error {
	if err := l.transitionToRunning(); err != nil {
		return err
	}
	go l.run(ctx)
	return nil
}

// Run runs the loop on the calling goroutine until Stop or ctx cancellation.
// The handle is disconnected before Run returns. Returns nil on a requested
// stop and ctx.Err() on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.transitionToRunning(); err != nil {
		return err
	}
	l.run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (l *Loop) transitionToRunning() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch State(l.state.Load()) {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}
	l.state.Store(int32(StateRunning))
	return nil
}

// Stop signals the loop and waits for it, bounded by StopTimeout.
// Idempotent; every call returns the first result.
//
// The handle is disconnected by whichever side owns it: the loop goroutine
// on its way out, or Stop itself when the loop never started. On a stop
// timeout the loop is still inside PollFrame, so the disconnect is left to
// it and Stop returns without touching the handle.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		prev := State(l.state.Load())
		l.state.Store(int32(StateStopped))
		l.mu.Unlock()

		close(l.stopCh)

		switch prev {
		case StateRunning:
			select {
			case <-l.done:
				slog.Debug("receiver: loop stopped cleanly")
			case <-time.After(l.cfg.StopTimeout):
				slog.Warn("receiver: stop timeout exceeded, loop will disconnect when its poll returns")
				l.stopErr = fmt.Errorf("receiver: stop timeout after %s", l.cfg.StopTimeout)
				return
			}
		case StateConnected:
			l.release()
		default:
			// The loop already exited on ctx cancellation.
			<-l.done
		}
		if l.stopErr == nil {
			l.stopErr = l.releaseErr
		}
	})
	return l.stopErr
}

// release disconnects the handle, logs the final counters and closes done.
// Runs once, on the goroutine that owns the handle at that point.
func (l *Loop) release() {
	l.releaseOnce.Do(func() {
		if err := l.handle.Disconnect(); err != nil {
			slog.Error("receiver: disconnect failed", "error", err)
			l.releaseErr = fmt.Errorf("receiver: disconnect: %w", err)
		}

		s := l.Stats()
		slog.Info("receiver: stopped",
			"source_id", l.cfg.SourceID,
			"frames_received", s.FramesReceived,
			"frames_pushed", s.FramesPushed,
			"frames_evicted", s.FramesEvicted,
			"normalize_failures", s.Normalize.Failed(),
			"receive_errors", s.ReceiveErrors.Total(),
		)
		close(l.done)
	})
}

// Done is closed once the handle has been released: after the loop
// goroutine exits, or on Stop for a loop that never started.
func (l *Loop) Done() <-chan struct{} { return l.done }

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a counter snapshot. Safe to call from any goroutine.
func (l *Loop) Stats() Stats {
	var last time.Time
	if ns := l.lastFrameAt.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		SourceID: l.cfg.SourceID,
		State:    l.State().String(),
		Polls:    l.polls.Load(),
		Timeouts: l.timeouts.Load(),
		ReceiveErrors: ErrorCounts{
			Network: l.errNetwork.Load(),
			Codec:   l.errCodec.Load(),
			Auth:    l.errAuth.Load(),
			Unknown: l.errUnknown.Load(),
		},
		FramesReceived: l.received.Load(),
		Normalize:      l.norm.Stats(),
		FramesPushed:   l.pushed.Load(),
		FramesEvicted:  l.evicted.Load(),
		LastFrameAt:    last,
		Arrival:        l.window.Stats(),
	}
}

func (l *Loop) run(ctx context.Context) {
	slog.Info("receiver: loop started", "source_id", l.cfg.SourceID)
	defer func() {
		l.mu.Lock()
		l.state.Store(int32(StateStopped))
		l.mu.Unlock()
		slog.Info("receiver: loop exited", "source_id", l.cfg.SourceID)
		l.release()
	}()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		l.polls.Add(1)
		raw, err := l.handle.PollFrame(l.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, framesource.ErrTimeout) {
				l.timeouts.Add(1)
				continue
			}
			l.receiveError(err)
			// A source in a persistent error state would otherwise spin.
			select {
			case <-l.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(l.cfg.PollTimeout):
			}
			continue
		}

		l.handleFrame(raw)
	}
}

// handleFrame normalizes, releases and pushes one polled frame. The raw
// frame is released on every path, before the push.
func (l *Loop) handleFrame(raw video.RawFrame) {
	n := l.received.Add(1)
	l.window.Add(raw.PresentationTime)

	frame, err := l.norm.Normalize(raw)
	l.handle.ReleaseFrame(raw)

	if err != nil {
		failed := l.norm.Stats().Failed()
		if failed == 1 || failed%failureLogEvery == 0 {
			slog.Warn("receiver: frame normalization failed",
				"source_id", l.cfg.SourceID,
				"reason", normalize.Reason(err),
				"error", err,
				"failures", failed,
			)
		}
		return
	}

	seq := l.seq.Add(1)
	frame = frame.WithSequence(seq, uuid.New().String())

	evicted := l.ring.Push(frame)
	l.pushed.Add(1)
	l.lastFrameAt.Store(time.Now().UnixNano())
	if evicted > 0 {
		l.evicted.Add(uint64(evicted))
	}

	slog.Debug("receiver: frame pushed",
		"seq", seq,
		"received", n,
		"width", frame.Width(),
		"height", frame.Height(),
		"trace_id", frame.TraceID(),
	)
}

func (l *Loop) receiveError(err error) {
	category := errclass.Classify(err)
	var total uint64
	switch category {
	case errclass.Network:
		total = l.errNetwork.Add(1)
	case errclass.Codec:
		total = l.errCodec.Add(1)
	case errclass.Auth:
		total = l.errAuth.Add(1)
	default:
		total = l.errUnknown.Add(1)
	}
	if total == 1 || total%failureLogEvery == 0 {
		slog.Warn("receiver: receive error",
			"source_id", l.cfg.SourceID,
			"category", category.String(),
			"error", err,
			"count", total,
		)
	}
}
