// Package sink holds the presentation side of the pipeline: whatever the
// pacer hands a frame to.
//
// The real display surface is an external collaborator; this package
// provides the pieces the monitor composes around it:
//
//	Snapshot  latest-frame holder for preview and readiness checks
//	Saver     asynchronous PNG/JPEG writer
//	Multi     fan-out to several sinks
//	Func      adapter for plain functions
//
// Present is called on the pacer goroutine once per delivered frame. It must
// return quickly; sinks that do I/O queue the frame and do the work
// elsewhere. Frames are shared, never copied, so sinks must treat
// PixelFrame.Pixels() as read-only.
package sink

import (
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

// Sink receives paced frames.
type Sink interface {
	Present(frame video.PixelFrame)
}

// Func adapts a function to Sink.
type Func func(video.PixelFrame)

// Present calls f(frame).
func (f Func) Present(frame video.PixelFrame) { f(frame) }

type multi []Sink

// Multi returns a sink that presents every frame to each of sinks in order.
// Nil entries are skipped. With a single sink it returns that sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multi) Present(frame video.PixelFrame) {
	for _, s := range m {
		s.Present(frame)
	}
}
