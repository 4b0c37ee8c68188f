// Package monitor wires one receiving session together:
//
//	Source --receiver.Loop--> framering.Ring --pacer.Pacer--> sinks
//	                                                      \--> sink.Snapshot --> preview
//
// plus the optional frame saver, preview server, MQTT telemetry and the
// periodic stats log. The session owns everything it builds; the caller owns
// the discovery environment and the source.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/denisgrzechnik/LayerMapper-NDI/framering"
	"github.com/denisgrzechnik/LayerMapper-NDI/framesource"
	"github.com/denisgrzechnik/LayerMapper-NDI/internal/config"
	"github.com/denisgrzechnik/LayerMapper-NDI/normalize"
	"github.com/denisgrzechnik/LayerMapper-NDI/pacer"
	"github.com/denisgrzechnik/LayerMapper-NDI/preview"
	"github.com/denisgrzechnik/LayerMapper-NDI/receiver"
	"github.com/denisgrzechnik/LayerMapper-NDI/sink"
	"github.com/denisgrzechnik/LayerMapper-NDI/telemetry"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

var (
	ErrAlreadyRunning = errors.New("monitor: session already running")
	ErrClosed         = errors.New("monitor: session closed")
)

// Session is one source-to-display pipeline.
type Session struct {
	cfg *config.Config
	id  string

	sourceID string
	ring     *framering.Ring[video.PixelFrame]
	loop     *receiver.Loop
	pacer    *pacer.Pacer
	snapshot *sink.Snapshot
	saver    *sink.Saver
	preview  *preview.Server
	emitter  *telemetry.Emitter

	mu      sync.Mutex
	started time.Time
	running atomic.Bool
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

// New builds every component and connects to the source.
//
// When env is non-nil the configured source name (or index) is resolved
// through it first: net sources connect to the discovered address, other
// kinds to the discovered name. A lookup or connection failure is returned
// and nothing is left running.
func New(ctx context.Context, cfg *config.Config, env *framesource.Environment, src framesource.Source, sinks ...sink.Sink) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("monitor: config is required")
	}
	if src == nil {
		return nil, fmt.Errorf("monitor: source is required")
	}

	s := &Session{
		cfg:      cfg,
		id:       uuid.New().String(),
		snapshot: sink.NewSnapshot(),
	}

	sourceID, err := resolveSource(ctx, cfg, env)
	if err != nil {
		return nil, err
	}
	s.sourceID = sourceID

	policy, err := framering.ParsePolicy(cfg.Buffer.Policy)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	s.ring, err = framering.New[video.PixelFrame](cfg.Buffer.Capacity, policy)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	if cfg.Saver.Enabled {
		s.saver, err = sink.NewSaver(sink.SaverConfig{
			Dir:         cfg.Saver.Dir,
			Format:      cfg.Saver.Format,
			JPEGQuality: cfg.Saver.JPEGQuality,
			Every:       cfg.Saver.Every,
		})
		if err != nil {
			return nil, fmt.Errorf("monitor: %w", err)
		}
	}

	presenters := append([]sink.Sink{s.snapshot}, sinks...)
	if s.saver != nil {
		presenters = append(presenters, s.saver)
	}
	s.pacer, err = pacer.New(s.ring, sink.Multi(presenters...), pacer.Config{
		TargetRate:      cfg.Display.RateHz,
		WarmupThreshold: cfg.Display.Warmup,
	})
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	if cfg.Preview.Enabled {
		s.preview = preview.New(preview.Config{
			Listen:          cfg.Preview.Listen,
			JPEGQuality:     cfg.Preview.JPEGQuality,
			StreamFPS:       cfg.Preview.StreamFPS,
			ShutdownTimeout: cfg.ShutdownTimeout(),
		}, s.snapshot, statusProvider{s})
	}

	if cfg.MQTT.Enabled {
		s.emitter = telemetry.NewEmitter(telemetry.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			StatsTopic:  cfg.MQTT.Topics.Stats,
			HealthTopic: cfg.MQTT.Topics.Health,
			QoS:         cfg.MQTT.QoS,
			Interval:    cfg.MQTTInterval(),
		})
	}

	// Connect last, so a failure above never leaves a connected handle.
	s.loop, err = receiver.New(ctx, src, s.ring, receiver.Config{
		SourceID:    sourceID,
		PollTimeout: cfg.PollTimeout(),
		Normalize:   normalize.Options{RowAlignment: cfg.Normalize.RowAlignment},
		StopTimeout: cfg.ShutdownTimeout(),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("monitor: session created",
		"session_id", s.id,
		"instance_id", cfg.InstanceID,
		"source_kind", cfg.Source.Kind,
		"source_id", sourceID,
		"buffer_capacity", cfg.Buffer.Capacity,
		"buffer_policy", policy.String(),
		"display_rate_hz", cfg.Display.RateHz,
		"warmup", cfg.Display.Warmup,
		"preview", cfg.Preview.Enabled,
		"mqtt", cfg.MQTT.Enabled,
		"saver", cfg.Saver.Enabled,
	)
	return s, nil
}

func resolveSource(ctx context.Context, cfg *config.Config, env *framesource.Environment) (string, error) {
	name := cfg.Source.Name
	if env == nil || name == "" {
		return name, nil
	}
	info, err := env.Lookup(ctx, name)
	if err != nil {
		slog.Error("monitor: source lookup failed", "source", name, "error", err)
		return "", fmt.Errorf("monitor: resolve source %q: %w", name, err)
	}
	slog.Info("monitor: source resolved",
		"source", name,
		"name", info.Name,
		"address", info.Address,
		"kind", info.Kind,
	)
	if cfg.Source.Kind == config.SourceNet {
		return info.Address, nil
	}
	return info.Name, nil
}

// Run runs every component until ctx is cancelled or one of them fails,
// then releases everything. A session runs once.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.started = time.Now()
	s.mu.Unlock()
	defer s.running.Store(false)

	slog.Info("monitor: session starting", "session_id", s.id)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(s.loop.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCancel(s.pacer.Run(gctx, nil))
	})
	if s.saver != nil {
		g.Go(func() error { return s.saver.Run(gctx) })
	}
	if s.preview != nil {
		g.Go(func() error { return s.preview.Run(gctx) })
	}
	if s.emitter != nil {
		g.Go(func() error {
			if err := s.emitter.Connect(gctx); err != nil {
				// Telemetry is optional; paho keeps retrying in the background.
				slog.Warn("monitor: mqtt connect failed, reports will be dropped until connected", "error", err)
			}
			return s.emitter.Run(gctx, s.report)
		})
	}
	if interval := s.cfg.StatsInterval(); interval > 0 {
		g.Go(func() error {
			s.logStats(gctx, interval)
			return nil
		})
	}

	err := g.Wait()
	closeErr := s.Close()

	uptime := time.Since(s.started)
	if err != nil {
		slog.Error("monitor: session failed", "session_id", s.id, "error", err, "uptime", uptime)
		return err
	}
	slog.Info("monitor: session finished", "session_id", s.id, "uptime", uptime.Round(time.Millisecond))
	return closeErr
}

// Close stops the receive loop, closes the ring and snapshot and disconnects
// telemetry. Idempotent. Run calls it on exit; call it directly only for a
// session that was never run.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.closeErr = s.loop.Stop()
		s.ring.Close()
		s.snapshot.Close()
		if s.preview != nil {
			s.preview.Close()
		}
		if s.emitter != nil {
			s.emitter.Disconnect()
		}
	})
	return s.closeErr
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// SourceID returns the id the receiver connected with.
func (s *Session) SourceID() string { return s.sourceID }

// Snapshot returns the latest-frame sink.
func (s *Session) Snapshot() *sink.Snapshot { return s.snapshot }

// Preview returns the preview server, nil when disabled.
func (s *Session) Preview() *preview.Server { return s.preview }

// Ready reports whether frames are being received and presented.
func (s *Session) Ready() (bool, string) {
	if st := s.loop.State(); st != receiver.StateRunning {
		return false, fmt.Sprintf("receiver %s", st)
	}
	if st := s.pacer.State(); st != pacer.StateSteady {
		return false, fmt.Sprintf("pacer %s", st)
	}
	return true, ""
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// statusProvider adapts a Session to preview.Provider.
type statusProvider struct{ s *Session }

func (p statusProvider) Stats() any            { return p.s.Stats() }
func (p statusProvider) Ready() (bool, string) { return p.s.Ready() }
