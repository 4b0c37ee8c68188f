// Package synthetic provides a test-pattern frame source.
//
// The source renders scrolling color bars at a fixed size and rate, in UYVY or
// any of the packed 32-bit encodings. Frame buffers come from a small pool and
// are recycled on ReleaseFrame, the same lifecycle a network receiver has.
//
// It backs the "synthetic" source kind, the broadcaster's default input and
// most pipeline tests.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denisgrzechnik/LayerMapper-NDI/framesource"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

// ErrInjected is the transient error returned when FailEvery triggers.
var ErrInjected = errors.New("synthetic: injected receive error")

// Config describes the generated stream.
type Config struct {
	// Name is the source name this source answers to. Empty accepts any id.
	Name string

	Width, Height int
	Encoding      video.Encoding
	Orientation   video.Orientation

	// Rate is the frame rate in Hz. 0 delivers a frame on every poll.
	Rate float64

	// FailEvery makes every Nth poll return ErrInjected (0 disables).
	FailEvery int

	// RefuseConnect makes Connect fail, for exercising connection errors.
	RefuseConnect bool

	// PoolSize is the number of frame buffers (default 4).
	PoolSize int
}

// Source is a framesource.Source producing the bar pattern.
type Source struct {
	cfg Config
}

// New validates cfg and returns a source.
func New(cfg Config) (*Source, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("synthetic: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Encoding.MinStride(cfg.Width) == 0 {
		return nil, fmt.Errorf("synthetic: unsupported encoding %s", cfg.Encoding)
	}
	if cfg.Rate < 0 {
		return nil, fmt.Errorf("synthetic: rate must be >= 0, got %v", cfg.Rate)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	return &Source{cfg: cfg}, nil
}

// Info describes this source for discovery.
func (s *Source) Info() framesource.SourceInfo {
	return framesource.SourceInfo{
		Name:    s.cfg.Name,
		Address: fmt.Sprintf("synthetic://%dx%d@%g", s.cfg.Width, s.cfg.Height, s.cfg.Rate),
		Kind:    "synthetic",
	}
}

// Connect opens a new generator handle.
func (s *Source) Connect(ctx context.Context, sourceID string) (framesource.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", framesource.ErrConnect, err)
	}
	if s.cfg.RefuseConnect {
		return nil, fmt.Errorf("%w: synthetic source %q refused connection", framesource.ErrConnect, sourceID)
	}
	if s.cfg.Name != "" && sourceID != "" && sourceID != s.cfg.Name {
		return nil, fmt.Errorf("%w: %w: %q", framesource.ErrConnect, framesource.ErrSourceNotFound, sourceID)
	}

	stride := s.cfg.Encoding.MinStride(s.cfg.Width)
	h := &Handle{
		cfg:    s.cfg,
		stride: stride,
		free:   make([][]byte, 0, s.cfg.PoolSize),
		start:  time.Now(),
	}
	for i := 0; i < s.cfg.PoolSize; i++ {
		h.free = append(h.free, make([]byte, stride*s.cfg.Height))
	}
	if s.cfg.Rate > 0 {
		h.interval = time.Duration(float64(time.Second) / s.cfg.Rate)
		h.next = h.start
	}

	slog.Info("synthetic: source connected",
		"source_id", sourceID,
		"width", s.cfg.Width,
		"height", s.cfg.Height,
		"encoding", s.cfg.Encoding.String(),
		"rate", s.cfg.Rate,
	)
	return h, nil
}

// Handle is a connected generator.
type Handle struct {
	cfg      Config
	stride   int
	interval time.Duration
	start    time.Time

	mu     sync.Mutex
	free   [][]byte
	next   time.Time
	closed bool

	polls       atomic.Uint64
	generated   atomic.Uint64
	outstanding atomic.Int64
}

// PollFrame renders the next frame if one is due within timeout.
func (h *Handle) PollFrame(timeout time.Duration) (video.RawFrame, error) {
	n := h.polls.Add(1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return video.RawFrame{}, framesource.ErrDisconnected
	}
	if h.cfg.FailEvery > 0 && n%uint64(h.cfg.FailEvery) == 0 {
		h.mu.Unlock()
		return video.RawFrame{}, ErrInjected
	}

	if h.interval > 0 {
		wait := time.Until(h.next)
		if wait > timeout {
			h.mu.Unlock()
			time.Sleep(timeout)
			return video.RawFrame{}, framesource.ErrTimeout
		}
		if wait > 0 {
			time.Sleep(wait)
		}
		h.next = h.next.Add(h.interval)
		// Don't build up a burst after a stall.
		if now := time.Now(); h.next.Before(now) {
			h.next = now
		}
	}

	if len(h.free) == 0 {
		// Every buffer is borrowed by the consumer: behave like a receiver
		// whose queue is exhausted.
		h.mu.Unlock()
		return video.RawFrame{}, framesource.ErrTimeout
	}
	buf := h.free[len(h.free)-1]
	h.free = h.free[:len(h.free)-1]
	h.mu.Unlock()

	seq := h.generated.Add(1) - 1
	Render(buf, h.stride, h.cfg.Width, h.cfg.Height, h.cfg.Encoding, seq)
	h.outstanding.Add(1)

	raw := video.RawFrame{
		Width:            int32(h.cfg.Width),
		Height:           int32(h.cfg.Height),
		Stride:           int32(h.stride),
		Encoding:         h.cfg.Encoding,
		Orientation:      h.cfg.Orientation,
		PresentationTime: time.Now().UnixMicro(),
		Data:             buf,
	}
	return raw.WithToken(buf), nil
}

// ReleaseFrame returns the frame's buffer to the pool. Frames that did not
// come from this handle are ignored.
func (h *Handle) ReleaseFrame(frame video.RawFrame) {
	buf, ok := frame.Token().([]byte)
	if !ok || buf == nil {
		return
	}
	h.outstanding.Add(-1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.free = append(h.free, buf)
	}
}

// Disconnect stops the generator. Idempotent.
func (h *Handle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.free = nil
	slog.Info("synthetic: source disconnected",
		"frames_generated", h.generated.Load(),
		"duration", time.Since(h.start),
	)
	return nil
}

// Generated is the number of frames produced so far.
func (h *Handle) Generated() uint64 { return h.generated.Load() }

// Outstanding is the number of polled frames not yet released.
func (h *Handle) Outstanding() int64 { return h.outstanding.Load() }
