package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/denisgrzechnik/LayerMapper-NDI/framering"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

// Snapshot keeps the most recently presented frame.
//
// Frames land in a KeepLatest ring, so Present is a single slot write no
// matter how slowly readers poll. Latest drains the ring into the current
// frame; Wait blocks until a frame newer than a given sequence arrives.
//
// Thread-safety: all methods are safe for concurrent use.
type Snapshot struct {
	ring *framering.Ring[video.PixelFrame]

	mu      sync.Mutex
	current video.PixelFrame
	changed chan struct{}

	presented atomic.Uint64
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	// Capacity 1 with KeepLatest cannot fail.
	ring, _ := framering.New[video.PixelFrame](1, framering.KeepLatest)
	return &Snapshot{
		ring:    ring,
		changed: make(chan struct{}),
	}
}

// Present stores frame as the latest and wakes waiters.
func (s *Snapshot) Present(frame video.PixelFrame) {
	s.ring.Push(frame)
	s.presented.Add(1)

	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Latest returns the most recent frame, or false if nothing was presented
// yet. Repeated calls return the same frame until a new one is presented.
func (s *Snapshot) Latest() (video.PixelFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.ring.PopLatest(); ok {
		s.current = f
	}
	return s.current, !s.current.IsZero()
}

// Wait blocks until a frame with Seq() > afterSeq is available or ctx is
// done.
func (s *Snapshot) Wait(ctx context.Context, afterSeq uint64) (video.PixelFrame, error) {
	for {
		// Grab the channel before checking, so a Present in between is seen.
		s.mu.Lock()
		ch := s.changed
		s.mu.Unlock()

		if f, ok := s.Latest(); ok && f.Seq() > afterSeq {
			return f, nil
		}

		select {
		case <-ctx.Done():
			return video.PixelFrame{}, ctx.Err()
		case <-ch:
		}
	}
}

// Presented returns how many frames were presented.
func (s *Snapshot) Presented() uint64 {
	return s.presented.Load()
}

// Close releases the buffered frame. Present after Close is a no-op for
// Latest, which keeps returning the last frame it saw.
func (s *Snapshot) Close() {
	s.ring.Close()
}
