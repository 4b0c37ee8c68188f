// Package framesource defines the contract between the receive loop and
// whatever delivers raw video frames: a network receiver, a GStreamer
// pipeline or a synthetic test pattern.
//
// A Source only knows how to connect. The resulting Handle is polled by a
// single goroutine (the receive loop):
//
//	h, err := src.Connect(ctx, "studio-a")
//	for {
//	    raw, err := h.PollFrame(time.Millisecond)
//	    if errors.Is(err, framesource.ErrTimeout) {
//	        continue
//	    }
//	    ...
//	    h.ReleaseFrame(raw) // exactly once per successful poll
//	}
//
// Implementations must guarantee:
//   - PollFrame blocks for at most the given timeout
//   - a returned RawFrame's Data stays valid until ReleaseFrame or the next
//     PollFrame call, whichever comes first
//   - Disconnect is idempotent and safe to call while no poll is in flight
package framesource

import (
	"context"
	"errors"
	"time"

	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

var (
	// ErrTimeout means no frame arrived within the poll timeout. It is the
	// normal, frequent outcome of a poll and never an error condition.
	ErrTimeout = errors.New("framesource: no frame within timeout")

	// ErrConnect wraps every Connect failure. It is fatal for the receive
	// loop instance that observed it.
	ErrConnect = errors.New("framesource: connect failed")

	// ErrDisconnected is returned by PollFrame after Disconnect.
	ErrDisconnected = errors.New("framesource: handle disconnected")

	// ErrSourceNotFound is returned by Environment.Lookup.
	ErrSourceNotFound = errors.New("framesource: source not found")

	// ErrEnvironmentClosed is returned by Environment methods after Close.
	ErrEnvironmentClosed = errors.New("framesource: environment closed")
)

// Source opens receive handles.
type Source interface {
	// Connect opens a handle for one source. Failures are returned wrapped in
	// ErrConnect.
	Connect(ctx context.Context, sourceID string) (Handle, error)
}

// Handle is a connected receiver for one source.
//
// Thread-safety: PollFrame and ReleaseFrame are called from one goroutine.
// Disconnect may be called from another goroutine once polling stops.
type Handle interface {
	// PollFrame waits up to timeout for the next frame. Returns ErrTimeout when
	// nothing arrived or a transient receive error.
	PollFrame(timeout time.Duration) (video.RawFrame, error)

	// ReleaseFrame returns a frame obtained from PollFrame to the source.
	ReleaseFrame(frame video.RawFrame)

	// Disconnect closes the handle. Idempotent.
	Disconnect() error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, sourceID string) (Handle, error)

// Connect calls f(ctx, sourceID).
func (f SourceFunc) Connect(ctx context.Context, sourceID string) (Handle, error) {
	return f(ctx, sourceID)
}
