// Package gstsource is a frame source backed by a GStreamer pipeline.
//
// The pipeline ends in an appsink whose caps are pinned by a capsfilter:
//
//	<input> → videoconvert → videoscale → videorate → capsfilter → appsink
//
// Any GStreamer input works (videotestsrc, v4l2src, an RTSP or NDI plugin
// bin), as long as it produces raw video.
//
// PollFrame pulls one sample with TryPullSample and maps its buffer. The
// mapped bytes are the borrowed view; ReleaseFrame unmaps the buffer.
package gstsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/denisgrzechnik/LayerMapper-NDI/framesource"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

// ErrEndOfStream is returned by PollFrame once the pipeline reached EOS.
var ErrEndOfStream = errors.New("gstsource: end of stream")

// Config describes the pipeline.
type Config struct {
	// Input is the launch description of everything before videoconvert.
	// Default: DefaultInput.
	Input string

	Width, Height int
	Rate          float64
	Encoding      video.Encoding // default UYVY
	Orientation   video.Orientation

	// MaxBuffers bounds the appsink queue (default 2); older samples are
	// dropped by the appsink when it is full.
	MaxBuffers int

	// StartTimeout bounds the wait for the PLAYING state (default 5s).
	StartTimeout time.Duration
}

// Source builds one pipeline per Connect.
type Source struct {
	cfg    Config
	launch string
}

// New validates cfg.
func New(cfg Config) (*Source, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gstsource: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("gstsource: rate must be > 0, got %v", cfg.Rate)
	}
	if cfg.MaxBuffers <= 0 {
		cfg.MaxBuffers = 2
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	launch, err := buildLaunch(cfg)
	if err != nil {
		return nil, err
	}
	return &Source{cfg: cfg, launch: launch}, nil
}

// Launch returns the full launch description.
func (s *Source) Launch() string { return s.launch }

// Connect builds the pipeline and waits for it to reach PLAYING.
func (s *Source) Connect(ctx context.Context, sourceID string) (framesource.Handle, error) {
	elements, err := createPipeline(s.launch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", framesource.ErrConnect, err)
	}

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		destroyPipeline(elements)
		return nil, fmt.Errorf("%w: failed to start pipeline: %w", framesource.ErrConnect, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		cfg:       s.cfg,
		sourceID:  sourceID,
		stride:    rowStride(s.cfg.Encoding, s.cfg.Width),
		elements:  elements,
		errs:      make(chan error, 1),
		playing:   make(chan struct{}),
		ctx:       runCtx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.monitorBus()
	}()

	select {
	case <-h.playing:
	case err := <-h.errs:
		h.Disconnect()
		return nil, fmt.Errorf("%w: %w", framesource.ErrConnect, err)
	case <-time.After(s.cfg.StartTimeout):
		h.Disconnect()
		return nil, fmt.Errorf("%w: pipeline did not reach PLAYING within %s", framesource.ErrConnect, s.cfg.StartTimeout)
	case <-ctx.Done():
		h.Disconnect()
		return nil, fmt.Errorf("%w: %w", framesource.ErrConnect, ctx.Err())
	}

	slog.Info("gstsource: pipeline playing",
		"source_id", sourceID,
		"width", s.cfg.Width,
		"height", s.cfg.Height,
		"encoding", s.cfg.Encoding.String(),
		"rate", s.cfg.Rate,
	)
	return h, nil
}

// ErrorCounts counts bus errors by category.
type ErrorCounts struct {
	Network uint64
	Codec   uint64
	Auth    uint64
	Unknown uint64
}

// Stats is a snapshot of handle counters.
type Stats struct {
	Frames    uint64
	Bytes     uint64
	Errors    ErrorCounts
	EOS       bool
	StartedAt time.Time
}

// Handle is a playing pipeline.
type Handle struct {
	cfg       Config
	sourceID  string
	stride    int
	elements  *pipelineElements
	startedAt time.Time

	errs        chan error
	playing     chan struct{}
	playingOnce sync.Once

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	frames     atomic.Uint64
	bytes      atomic.Uint64
	eos        atomic.Bool
	errNetwork atomic.Uint64
	errCodec   atomic.Uint64
	errAuth    atomic.Uint64
	errUnknown atomic.Uint64
}

// mappedBuffer is the release token of a polled frame.
type mappedBuffer struct {
	buffer *gst.Buffer
	once   sync.Once
}

// PollFrame pulls the next sample, waiting at most timeout.
func (h *Handle) PollFrame(timeout time.Duration) (video.RawFrame, error) {
	select {
	case err := <-h.errs:
		return video.RawFrame{}, err
	default:
	}
	if h.ctx.Err() != nil {
		return video.RawFrame{}, framesource.ErrDisconnected
	}

	sample := h.elements.AppSink.TryPullSample(timeout)
	if sample == nil {
		if h.elements.AppSink.IsEOS() {
			h.eos.Store(true)
			return video.RawFrame{}, ErrEndOfStream
		}
		return video.RawFrame{}, framesource.ErrTimeout
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstsource: failed to get buffer from sample, skipping frame")
		return video.RawFrame{}, framesource.ErrTimeout
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return video.RawFrame{}, framesource.ErrTimeout
	}
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstsource: empty buffer received")
		return video.RawFrame{}, framesource.ErrTimeout
	}

	h.frames.Add(1)
	h.bytes.Add(uint64(len(data)))

	raw := video.RawFrame{
		Width:            int32(h.cfg.Width),
		Height:           int32(h.cfg.Height),
		Stride:           int32(h.stride),
		Encoding:         h.cfg.Encoding,
		Orientation:      h.cfg.Orientation,
		PresentationTime: time.Now().UnixMicro(),
		Data:             data,
	}
	return raw.WithToken(&mappedBuffer{buffer: buffer}), nil
}

// ReleaseFrame unmaps the frame's buffer. Safe to call twice.
func (h *Handle) ReleaseFrame(frame video.RawFrame) {
	if mb, ok := frame.Token().(*mappedBuffer); ok && mb != nil {
		mb.once.Do(func() { mb.buffer.Unmap() })
	}
}

// Disconnect stops the bus monitor and destroys the pipeline. Idempotent.
func (h *Handle) Disconnect() error {
	var err error
	h.stopOnce.Do(func() {
		h.cancel()
		h.wg.Wait()
		err = destroyPipeline(h.elements)
		slog.Info("gstsource: pipeline stopped",
			"source_id", h.sourceID,
			"frames", h.frames.Load(),
			"uptime", time.Since(h.startedAt),
		)
	})
	return err
}

// Stats returns a counter snapshot.
func (h *Handle) Stats() Stats {
	return Stats{
		Frames: h.frames.Load(),
		Bytes:  h.bytes.Load(),
		Errors: ErrorCounts{
			Network: h.errNetwork.Load(),
			Codec:   h.errCodec.Load(),
			Auth:    h.errAuth.Load(),
			Unknown: h.errUnknown.Load(),
		},
		EOS:       h.eos.Load(),
		StartedAt: h.startedAt,
	}
}
