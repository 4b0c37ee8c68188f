package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/denisgrzechnik/LayerMapper-NDI/framering"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 3
	}
	if cfg.StatsIntervalS == 0 {
		cfg.StatsIntervalS = 10
	}

	if err := validateLog(&cfg.Log); err != nil {
		return err
	}
	if err := validateSource(&cfg.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	// Validate buffer config
	if cfg.Buffer.Capacity == 0 {
		cfg.Buffer.Capacity = 12
	}
	if cfg.Buffer.Capacity < 1 || cfg.Buffer.Capacity > 256 {
		return fmt.Errorf("buffer.capacity must be in 1..256, got %d", cfg.Buffer.Capacity)
	}
	policy, err := framering.ParsePolicy(cfg.Buffer.Policy)
	if err != nil {
		return fmt.Errorf("buffer.policy: %w", err)
	}
	cfg.Buffer.Policy = policy.String()

	// Validate display config
	if cfg.Display.RateHz == 0 {
		cfg.Display.RateHz = 30
	}
	if cfg.Display.RateHz < 1 || cfg.Display.RateHz > 240 {
		return fmt.Errorf("display.rate_hz must be in 1..240, got %v", cfg.Display.RateHz)
	}
	if cfg.Display.Warmup == 0 {
		cfg.Display.Warmup = 3
	}
	if cfg.Display.Warmup < 1 || cfg.Display.Warmup > cfg.Buffer.Capacity {
		return fmt.Errorf("display.warmup must be in 1..buffer.capacity (%d), got %d",
			cfg.Buffer.Capacity, cfg.Display.Warmup)
	}
	if policy == framering.KeepLatest && cfg.Display.Warmup > 1 {
		return fmt.Errorf("display.warmup must be 1 with keep-latest policy (occupancy never exceeds 1)")
	}

	if a := cfg.Normalize.RowAlignment; a < 0 || (a > 0 && a&(a-1) != 0) {
		return fmt.Errorf("normalize.row_alignment must be 0 or a power of two, got %d", a)
	}

	if err := validateSaver(&cfg.Saver); err != nil {
		return fmt.Errorf("saver: %w", err)
	}
	validatePreview(&cfg.Preview)
	if err := validateMQTT(&cfg.MQTT, cfg.InstanceID); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	return nil
}

func validateLog(l *LogConfig) error {
	l.Level = strings.ToLower(l.Level)
	switch l.Level {
	case "":
		l.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level '%s' (must be debug, info, warn or error)", l.Level)
	}

	switch l.Format {
	case "":
		l.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format '%s' (must be text or json)", l.Format)
	}
	return nil
}

func validateSource(s *SourceConfig) error {
	if s.Kind == "" {
		s.Kind = SourceSynthetic
	}
	if s.PollTimeoutMS == 0 {
		s.PollTimeoutMS = 1
	}
	if s.PollTimeoutMS < 0 {
		return fmt.Errorf("poll_timeout_ms must be > 0")
	}
	if s.DialTimeoutMS <= 0 {
		s.DialTimeoutMS = 3000
	}

	switch s.Kind {
	case SourceSynthetic:
		sc := &s.Synthetic
		if sc.Width == 0 {
			sc.Width = 1280
		}
		if sc.Height == 0 {
			sc.Height = 720
		}
		if sc.Encoding == "" {
			sc.Encoding = video.EncodingUYVY.String()
		}
		if sc.RateHz == 0 {
			sc.RateHz = 30
		}
		return validateFormat(sc.Width, sc.Height, sc.RateHz, sc.Encoding, sc.Orientation)

	case SourceNet:
		if len(s.Addresses) == 0 {
			return fmt.Errorf("addresses: at least one sender address is required for kind 'net'")
		}
		if s.Name == "" {
			// First discovered sender.
			s.Name = "0"
		}
		return nil

	case SourceGst:
		gc := &s.Gst
		if gc.Width == 0 {
			gc.Width = 1280
		}
		if gc.Height == 0 {
			gc.Height = 720
		}
		if gc.Encoding == "" {
			gc.Encoding = video.EncodingUYVY.String()
		}
		if gc.RateHz == 0 {
			gc.RateHz = 30
		}
		return validateFormat(gc.Width, gc.Height, gc.RateHz, gc.Encoding, gc.Orientation)

	default:
		return fmt.Errorf("unknown kind '%s' (must be 'synthetic', 'net' or 'gst')", s.Kind)
	}
}

func validateFormat(width, height int, rate float64, encoding, orientation string) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid size %dx%d", width, height)
	}
	if rate < 0 {
		return fmt.Errorf("rate_hz must be >= 0")
	}
	if _, err := video.ParseEncoding(encoding); err != nil {
		return err
	}
	if _, err := video.ParseOrientation(orientation); err != nil {
		return err
	}
	return nil
}

func validateSaver(s *SaverConfig) error {
	if !s.Enabled {
		return nil
	}
	if s.Dir == "" {
		s.Dir = "frames"
	}
	switch s.Format {
	case "":
		s.Format = "png"
	case "png", "jpeg":
	default:
		return fmt.Errorf("format: unsupported format '%s' (must be png or jpeg)", s.Format)
	}
	if s.JPEGQuality == 0 {
		s.JPEGQuality = 85
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be in 1..100, got %d", s.JPEGQuality)
	}
	if s.Every <= 0 {
		s.Every = 1
	}
	return nil
}

func validatePreview(p *PreviewConfig) {
	if p.Listen == "" {
		p.Listen = ":8080"
	}
	if p.JPEGQuality <= 0 || p.JPEGQuality > 100 {
		p.JPEGQuality = 75
	}
	if p.StreamFPS <= 0 {
		p.StreamFPS = 10
	}
}

func validateMQTT(m *MQTTConfig, instanceID string) error {
	if !m.Enabled {
		return nil
	}

	// Validate MQTT broker
	if m.Broker == "" {
		return fmt.Errorf("broker is required when mqtt is enabled")
	}
	if m.ClientID == "" {
		m.ClientID = fmt.Sprintf("layermapper-%s", instanceID)
	}

	// Set default topics if not provided
	if m.Topics.Stats == "" {
		m.Topics.Stats = fmt.Sprintf("layermapper/stats/%s", instanceID)
	}
	if m.Topics.Health == "" {
		m.Topics.Health = fmt.Sprintf("layermapper/health/%s", instanceID)
	}

	if m.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", m.QoS)
	}
	if m.IntervalS <= 0 {
		m.IntervalS = 5
	}
	return nil
}
