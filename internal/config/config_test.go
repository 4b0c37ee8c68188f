package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("instance_id: studio-a\n"))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 10*time.Second, cfg.StatsInterval())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	assert.Equal(t, SourceSynthetic, cfg.Source.Kind)
	assert.Equal(t, time.Millisecond, cfg.PollTimeout())
	assert.Equal(t, 3*time.Second, cfg.DialTimeout())
	assert.Equal(t, 1280, cfg.Source.Synthetic.Width)
	assert.Equal(t, 720, cfg.Source.Synthetic.Height)
	assert.Equal(t, "UYVY", cfg.Source.Synthetic.Encoding)

	assert.Equal(t, 12, cfg.Buffer.Capacity)
	assert.Equal(t, "drop-oldest", cfg.Buffer.Policy)
	assert.Equal(t, 30.0, cfg.Display.RateHz)
	assert.Equal(t, 3, cfg.Display.Warmup)

	assert.Equal(t, ":8080", cfg.Preview.Listen)
	assert.False(t, cfg.Preview.Enabled)
	assert.False(t, cfg.MQTT.Enabled)
	t.Logf("✅ defaults applied: %+v", cfg.Buffer)
}

func TestParse_FullFile(t *testing.T) {
	yml := `
instance_id: stage-left
stats_interval_s: -1
log:
  level: DEBUG
  format: json
source:
  kind: net
  name: Studio Cam
  addresses: ["10.0.0.5:5960", "10.0.0.6:5960"]
  poll_timeout_ms: 5
buffer:
  capacity: 24
display:
  rate_hz: 60
  warmup: 4
saver:
  enabled: true
  format: jpeg
preview:
  enabled: true
  listen: 127.0.0.1:9000
mqtt:
  enabled: true
  broker: tcp://broker:1883
  qos: 1
`
	cfg, err := Parse([]byte(yml))
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.StatsInterval(), "negative disables")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "Studio Cam", cfg.Source.Name)
	assert.Len(t, cfg.Source.Addresses, 2)
	assert.Equal(t, 5*time.Millisecond, cfg.PollTimeout())
	assert.Equal(t, 24, cfg.Buffer.Capacity)
	assert.Equal(t, 4, cfg.Display.Warmup)

	assert.Equal(t, "frames", cfg.Saver.Dir)
	assert.Equal(t, 85, cfg.Saver.JPEGQuality)
	assert.Equal(t, 1, cfg.Saver.Every)

	assert.Equal(t, "127.0.0.1:9000", cfg.Preview.Listen)
	assert.Equal(t, 10.0, cfg.Preview.StreamFPS)

	assert.Equal(t, "layermapper-stage-left", cfg.MQTT.ClientID)
	assert.Equal(t, "layermapper/stats/stage-left", cfg.MQTT.Topics.Stats)
	assert.Equal(t, "layermapper/health/stage-left", cfg.MQTT.Topics.Health)
	assert.Equal(t, 5*time.Second, cfg.MQTTInterval())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"missing instance id", "buffer: {capacity: 4}"},
		{"bad instance id", "instance_id: Studio_A"},
		{"capacity too large", "instance_id: a\nbuffer: {capacity: 300}"},
		{"unknown policy", "instance_id: a\nbuffer: {policy: newest}"},
		{"rate too high", "instance_id: a\ndisplay: {rate_hz: 500}"},
		{"warmup above capacity", "instance_id: a\nbuffer: {capacity: 2}\ndisplay: {warmup: 3}"},
		{"keep-latest with warmup", "instance_id: a\nbuffer: {policy: keep-latest}\ndisplay: {warmup: 2}"},
		{"odd alignment", "instance_id: a\nnormalize: {row_alignment: 24}"},
		{"unknown source kind", "instance_id: a\nsource: {kind: ndi}"},
		{"net without addresses", "instance_id: a\nsource: {kind: net}"},
		{"bad encoding", "instance_id: a\nsource: {synthetic: {encoding: nv12}}"},
		{"bad orientation", "instance_id: a\nsource: {gst: {orientation: sideways}, kind: gst}"},
		{"bad saver format", "instance_id: a\nsaver: {enabled: true, format: gif}"},
		{"mqtt without broker", "instance_id: a\nmqtt: {enabled: true}"},
		{"mqtt bad qos", "instance_id: a\nmqtt: {enabled: true, broker: tcp://b:1883, qos: 3}"},
		{"bad log level", "instance_id: a\nlog: {level: loud}"},
		{"malformed yaml", "instance_id: [a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yml))
			assert.Error(t, err)
		})
	}
}

func TestValidate_KeepLatestWithWarmupOne(t *testing.T) {
	cfg, err := Parse([]byte("instance_id: a\nbuffer: {policy: keep-latest}\ndisplay: {warmup: 1}"))
	require.NoError(t, err)
	assert.Equal(t, "keep-latest", cfg.Buffer.Policy)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layermonitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instance_id: from-file\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.InstanceID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "bars", cfg.Source.Name)
	assert.Equal(t, SourceSynthetic, cfg.Source.Kind)
}
