package gstsource

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

// sinkName is the appsink's element name inside the pipeline.
const sinkName = "layermapper_sink"

// DefaultInput is the input used when Config.Input is empty.
const DefaultInput = "videotestsrc is-live=true pattern=smpte"

// pipelineElements holds references to the pieces PollFrame and the bus
// monitor need.
type pipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
}

// capsFormat maps the configured encoding to a GStreamer raw video format.
func capsFormat(enc video.Encoding) (string, error) {
	switch enc {
	case video.EncodingUYVY:
		return "UYVY", nil
	case video.EncodingBGRA:
		return "BGRA", nil
	case video.EncodingBGRX:
		return "BGRx", nil
	case video.EncodingRGBA:
		return "RGBA", nil
	default:
		return "", fmt.Errorf("gstsource: unsupported encoding %s", enc)
	}
}

// rowStride returns the row stride GStreamer uses for the negotiated caps.
// Raw video rows are padded to 4 bytes.
func rowStride(enc video.Encoding, width int) int {
	return (enc.MinStride(width) + 3) &^ 3
}

// buildLaunch returns the launch description:
//
//	<input> ! videoconvert ! videoscale ! videorate !
//	video/x-raw,format=F,width=W,height=H,framerate=N/D ! appsink
//
// The capsfilter pins the output geometry, so each sample's layout is known
// without parsing caps per frame.
func buildLaunch(cfg Config) (string, error) {
	format, err := capsFormat(cfg.Encoding)
	if err != nil {
		return "", err
	}
	input := strings.TrimSpace(cfg.Input)
	if input == "" {
		input = DefaultInput
	}
	num, den := framerateFraction(cfg.Rate)
	return fmt.Sprintf(
		"%s ! videoconvert ! videoscale ! videorate ! "+
			"video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d ! "+
			"appsink name=%s sync=false max-buffers=%d drop=true",
		input, format, cfg.Width, cfg.Height, num, den, sinkName, cfg.MaxBuffers,
	), nil
}

// framerateFraction expresses rate as a GStreamer fraction with millihertz
// precision (29.97 -> 29970/1000).
func framerateFraction(rate float64) (int, int) {
	if rate == float64(int(rate)) {
		return int(rate), 1
	}
	return int(rate*1000 + 0.5), 1000
}

// createPipeline parses the launch description and resolves the appsink.
// The pipeline is left in the NULL state.
func createPipeline(launch string) (*pipelineElements, error) {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	slog.Debug("gstsource: creating pipeline", "pipeline", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to find appsink: %w", err)
	}
	return &pipelineElements{
		Pipeline: pipeline,
		AppSink:  app.SinkFromElement(elem),
	}, nil
}

// destroyPipeline sets the pipeline to NULL, releasing every resource.
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
