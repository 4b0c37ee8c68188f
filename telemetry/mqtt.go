// Package telemetry publishes periodic pipeline reports to an MQTT broker.
//
// Reports are msgpack encoded. Two topics are used: one for the full stats
// snapshot and one for a small health record.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrNotConnected   = errors.New("telemetry: mqtt not connected")
	ErrPublishTimeout = errors.New("telemetry: publish timeout")
)

// Config configures the emitter.
type Config struct {
	Broker      string // e.g. "tcp://localhost:1883"
	ClientID    string
	StatsTopic  string
	HealthTopic string
	QoS         byte
	Interval    time.Duration // report interval for Run (default 5s)

	ConnectTimeout time.Duration // default 5s
	PublishTimeout time.Duration // default 2s
}

// Snapshot returns the current stats and health payloads.
type Snapshot func() (stats any, health any)

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected" msgpack:"connected"`
	Published map[string]uint64 `json:"published" msgpack:"published"`
	Errors    uint64            `json:"errors" msgpack:"errors"`
}

// Emitter publishes reports over MQTT.
type Emitter struct {
	cfg    Config
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
}

// NewEmitter creates an emitter with a paho client configured for automatic
// reconnection. Call Connect before publishing.
func NewEmitter(cfg Config) *Emitter {
	e := newEmitter(cfg)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("telemetry: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
			"auto_reconnect", "enabled")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
			"max_retry_interval", "30s")
	}

	e.client = mqtt.NewClient(opts)
	return e
}

// NewEmitterWithClient creates an emitter over an existing client.
func NewEmitterWithClient(cfg Config, client mqtt.Client) *Emitter {
	e := newEmitter(cfg)
	e.client = client
	return e
}

func newEmitter(cfg Config) *Emitter {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &Emitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to the broker.
func (e *Emitter) Connect(ctx context.Context) error {
	slog.Info("telemetry: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.cfg.ConnectTimeout):
		return fmt.Errorf("telemetry: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}
	return nil
}

// Publish msgpack-encodes v and publishes it to topic.
func (e *Emitter) Publish(topic string, v any) error {
	if !e.client.IsConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := msgpack.Marshal(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("telemetry: marshal report: %w", err)
	}

	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		e.countError()
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("telemetry: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("telemetry: report published",
		"topic", topic,
		"qos", e.cfg.QoS,
		"size", len(payload),
	)
	return nil
}

// PublishStats publishes a stats report.
func (e *Emitter) PublishStats(v any) error {
	return e.Publish(e.cfg.StatsTopic, v)
}

// PublishHealth publishes a health record.
func (e *Emitter) PublishHealth(v any) error {
	return e.Publish(e.cfg.HealthTopic, v)
}

// Run publishes a report every Interval until ctx is cancelled. Publish
// failures are counted and logged, never returned.
func (e *Emitter) Run(ctx context.Context, snapshot Snapshot) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.publishSnapshot(snapshot)
		}
	}
}

func (e *Emitter) publishSnapshot(snapshot Snapshot) {
	stats, health := snapshot()
	if stats != nil {
		if err := e.PublishStats(stats); err != nil {
			slog.Debug("telemetry: stats report failed", "error", err)
		}
	}
	if health != nil {
		if err := e.PublishHealth(health); err != nil {
			slog.Debug("telemetry: health report failed", "error", err)
		}
	}
}

// Disconnect closes the MQTT connection
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("telemetry: mqtt disconnected")
	}
}

// Stats returns emitter statistics
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.client != nil && e.client.IsConnected(),
		Published: published,
		Errors:    e.errors,
	}
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
