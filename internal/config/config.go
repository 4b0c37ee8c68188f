package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceNet       = "net"
	SourceGst       = "gst"
)

// Config represents the complete layermonitor configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 3)
	StatsIntervalS   int             `yaml:"stats_interval_s"`   // Periodic stats log (default: 10, negative disables)
	Log              LogConfig       `yaml:"log"`
	Source           SourceConfig    `yaml:"source"`
	Buffer           BufferConfig    `yaml:"buffer"`
	Display          DisplayConfig   `yaml:"display"`
	Normalize        NormalizeConfig `yaml:"normalize"`
	Saver            SaverConfig     `yaml:"saver"`
	Preview          PreviewConfig   `yaml:"preview"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text, json (default: text)
}

// SourceConfig selects and configures the frame source
type SourceConfig struct {
	Kind          string          `yaml:"kind"`            // synthetic, net, gst
	Name          string          `yaml:"name"`            // source name or discovery index
	Addresses     []string        `yaml:"addresses"`       // net: sender addresses probed for discovery
	PollTimeoutMS int             `yaml:"poll_timeout_ms"` // receive poll timeout (default: 1)
	DialTimeoutMS int             `yaml:"dial_timeout_ms"` // net: dial timeout (default: 3000)
	Synthetic     SyntheticConfig `yaml:"synthetic"`
	Gst           GstConfig       `yaml:"gst"`
}

// SyntheticConfig configures the test pattern generator
type SyntheticConfig struct {
	Width       int     `yaml:"width"`       // default: 1280
	Height      int     `yaml:"height"`      // default: 720
	Encoding    string  `yaml:"encoding"`    // bgra, bgrx, rgba, uyvy (default: uyvy)
	Orientation string  `yaml:"orientation"` // up, down, left, right, *-mirrored (default: up)
	RateHz      float64 `yaml:"rate_hz"`     // default: 30
}

// GstConfig configures the GStreamer appsink source
type GstConfig struct {
	Input       string  `yaml:"input"` // launch description before videoconvert
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	RateHz      float64 `yaml:"rate_hz"`
	Encoding    string  `yaml:"encoding"`
	Orientation string  `yaml:"orientation"`
}

// BufferConfig contains frame ring settings
type BufferConfig struct {
	Capacity int    `yaml:"capacity"` // 1-256 (default: 12)
	Policy   string `yaml:"policy"`   // drop-oldest, keep-latest (default: drop-oldest)
}

// DisplayConfig contains pacer settings
type DisplayConfig struct {
	RateHz float64 `yaml:"rate_hz"` // 1-240 (default: 30)
	Warmup int     `yaml:"warmup"`  // frames buffered before presenting (default: 3)
}

// NormalizeConfig contains pixel normalization settings
type NormalizeConfig struct {
	RowAlignment int `yaml:"row_alignment"` // output stride alignment in bytes (default: 0, tight)
}

// SaverConfig contains frame saving settings (optional feature)
type SaverConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`          // default: frames
	Format      string `yaml:"format"`       // png, jpeg (default: png)
	JPEGQuality int    `yaml:"jpeg_quality"` // 1-100 (default: 85)
	Every       int    `yaml:"every"`        // save one frame out of N (default: 1)
}

// PreviewConfig contains HTTP preview server settings
type PreviewConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Listen      string  `yaml:"listen"`       // default: :8080
	JPEGQuality int     `yaml:"jpeg_quality"` // default: 75
	StreamFPS   float64 `yaml:"stream_fps"`   // websocket preview rate cap (default: 10)
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled   bool       `yaml:"enabled"`
	Broker    string     `yaml:"broker"`
	ClientID  string     `yaml:"client_id"`  // default: layermapper-<instance_id>
	Topics    MQTTTopics `yaml:"topics"`
	QoS       byte       `yaml:"qos"`        // 0-2 (default: 0)
	IntervalS int        `yaml:"interval_s"` // stats report interval (default: 5)
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Stats  string `yaml:"stats"`
	Health string `yaml:"health"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration for a local synthetic source.
func Default() *Config {
	cfg := &Config{
		InstanceID: "layermonitor",
		Source:     SourceConfig{Kind: SourceSynthetic, Name: "bars"},
	}
	if err := Validate(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// PollTimeout returns the receive poll timeout.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Source.PollTimeoutMS) * time.Millisecond
}

// DialTimeout returns the net source dial timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Source.DialTimeoutMS) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// StatsInterval returns the stats log interval, 0 when disabled.
func (c *Config) StatsInterval() time.Duration {
	if c.StatsIntervalS < 0 {
		return 0
	}
	return time.Duration(c.StatsIntervalS) * time.Second
}

// MQTTInterval returns the telemetry report interval.
func (c *Config) MQTTInterval() time.Duration {
	return time.Duration(c.MQTT.IntervalS) * time.Second
}
