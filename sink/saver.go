package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

// SaverConfig configures a Saver.
type SaverConfig struct {
	Dir         string
	Format      string // "png" or "jpeg"
	JPEGQuality int    // 1-100, JPEG only
	Every       int    // save one frame out of Every (default 1: all)
	QueueSize   int    // frames waiting to be written (default 8)
}

// SaverStats is a snapshot of saver counters.
type SaverStats struct {
	Saved   uint64 `json:"saved" msgpack:"saved"`
	Dropped uint64 `json:"dropped" msgpack:"dropped"` // queue full
	Failed  uint64 `json:"failed" msgpack:"failed"`   // encode or file errors
	Skipped uint64 `json:"skipped" msgpack:"skipped"` // sampled out by Every
}

// Saver writes presented frames to disk as PNG or JPEG.
//
// Present only enqueues; encoding and file I/O happen in Run. When the queue
// is full the frame is dropped and counted, the pacer never waits on disk.
//
// Filename format: frame_{seq:06d}_{pts_us}.{ext}
// Example: frame_000042_1400000.png
type Saver struct {
	cfg   SaverConfig
	queue chan video.PixelFrame

	seen    atomic.Uint64
	saved   atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

// NewSaver validates cfg and creates the output directory.
func NewSaver(cfg SaverConfig) (*Saver, error) {
	if cfg.Format != FormatPNG && cfg.Format != FormatJPEG {
		return nil, fmt.Errorf("%w: %q (must be png or jpeg)", ErrUnsupportedFormat, cfg.Format)
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("sink: saver output directory is required")
	}
	if cfg.Every <= 0 {
		cfg.Every = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create output directory: %w", err)
	}
	return &Saver{
		cfg:   cfg,
		queue: make(chan video.PixelFrame, cfg.QueueSize),
	}, nil
}

// Present queues frame for writing without blocking.
func (s *Saver) Present(frame video.PixelFrame) {
	n := s.seen.Add(1)
	if (n-1)%uint64(s.cfg.Every) != 0 {
		s.skipped.Add(1)
		return
	}
	select {
	case s.queue <- frame:
	default:
		s.dropped.Add(1)
	}
}

// Run writes queued frames until ctx is cancelled, then flushes what is
// already queued. Always returns nil; write failures are counted and logged.
func (s *Saver) Run(ctx context.Context) error {
	slog.Info("sink: saver started",
		"dir", s.cfg.Dir,
		"format", s.cfg.Format,
		"every", s.cfg.Every,
	)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case f := <-s.queue:
					s.write(f)
				default:
					st := s.Stats()
					slog.Info("sink: saver stopped", "saved", st.Saved, "dropped", st.Dropped, "failed", st.Failed)
					return nil
				}
			}
		case f := <-s.queue:
			s.write(f)
		}
	}
}

func (s *Saver) write(frame video.PixelFrame) {
	if _, err := s.SaveFrame(frame); err != nil {
		if s.failed.Load() == 1 {
			slog.Warn("sink: failed to save frame", "seq", frame.Seq(), "error", err)
		}
	}
}

// SaveFrame writes one frame synchronously and returns the file path.
func (s *Saver) SaveFrame(frame video.PixelFrame) (string, error) {
	name := fmt.Sprintf("frame_%06d_%d.%s", frame.Seq(), frame.Timestamp(), s.cfg.Format)
	path := filepath.Join(s.cfg.Dir, name)

	file, err := os.Create(path)
	if err != nil {
		s.failed.Add(1)
		return "", fmt.Errorf("sink: create file: %w", err)
	}

	if err := Encode(file, frame, s.cfg.Format, s.cfg.JPEGQuality); err != nil {
		file.Close()
		os.Remove(path)
		s.failed.Add(1)
		return "", err
	}
	if err := file.Close(); err != nil {
		s.failed.Add(1)
		return "", fmt.Errorf("sink: close file: %w", err)
	}

	s.saved.Add(1)
	return path, nil
}

// Stats returns current save statistics.
func (s *Saver) Stats() SaverStats {
	return SaverStats{
		Saved:   s.saved.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
		Skipped: s.skipped.Load(),
	}
}
