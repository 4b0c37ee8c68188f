package gstsource

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/denisgrzechnik/LayerMapper-NDI/internal/errclass"
)

// monitorBus polls the pipeline bus until Disconnect.
//
// This function:
//  1. Polls with a short timeout for responsive shutdown
//  2. Classifies errors and counts them by category
//  3. Hands each error to the next PollFrame as a transient receive error
//  4. Signals Connect when the pipeline reaches PLAYING
func (h *Handle) monitorBus() {
	bus := h.elements.Pipeline.GetPipelineBus()
	pipelineName := h.elements.Pipeline.GetName()

	for {
		select {
		case <-h.ctx.Done():
			slog.Debug("gstsource: context cancelled, stopping pipeline monitor")
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			h.eos.Store(true)
			slog.Info("gstsource: end of stream received",
				"source_id", h.sourceID,
				"uptime", time.Since(h.startedAt),
				"frames_processed", h.frames.Load(),
			)
			h.report(ErrEndOfStream)

		case gst.MessageError:
			gerr := msg.ParseError()
			category := errclass.ClassifyText(gerr.Error(), gerr.DebugString())
			h.count(category)

			slog.Error("gstsource: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"source_id", h.sourceID,
				"uptime", time.Since(h.startedAt),
				"frames_processed", h.frames.Load(),
			)
			h.report(fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error()))

		case gst.MessageStateChanged:
			if msg.Source() == pipelineName {
				old, next := msg.ParseStateChanged()
				slog.Debug("gstsource: pipeline state changed", "from", old, "to", next)
				if next == gst.StatePlaying {
					h.playingOnce.Do(func() { close(h.playing) })
				}
			}
		}
	}
}

func (h *Handle) count(c errclass.Category) {
	switch c {
	case errclass.Network:
		h.errNetwork.Add(1)
	case errclass.Codec:
		h.errCodec.Add(1)
	case errclass.Auth:
		h.errAuth.Add(1)
	default:
		h.errUnknown.Add(1)
	}
}

// report keeps the first pending error; later ones are only counted and logged.
func (h *Handle) report(err error) {
	select {
	case h.errs <- err:
	default:
	}
}
