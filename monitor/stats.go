package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/denisgrzechnik/LayerMapper-NDI/framering"
	"github.com/denisgrzechnik/LayerMapper-NDI/pacer"
	"github.com/denisgrzechnik/LayerMapper-NDI/preview"
	"github.com/denisgrzechnik/LayerMapper-NDI/receiver"
	"github.com/denisgrzechnik/LayerMapper-NDI/sink"
	"github.com/denisgrzechnik/LayerMapper-NDI/telemetry"
)

// RingStats is the frame ring part of Stats.
type RingStats struct {
	framering.Stats `msgpack:",inline"`
	Capacity        int    `json:"capacity" msgpack:"capacity"`
	Occupancy       int    `json:"occupancy" msgpack:"occupancy"`
	Policy          string `json:"policy" msgpack:"policy"`
}

// Stats aggregates every component of the session.
type Stats struct {
	SessionID     string           `json:"session_id" msgpack:"session_id"`
	InstanceID    string           `json:"instance_id" msgpack:"instance_id"`
	UptimeSeconds float64          `json:"uptime_seconds" msgpack:"uptime_seconds"`
	Ready         bool             `json:"ready" msgpack:"ready"`
	Ring          RingStats        `json:"ring" msgpack:"ring"`
	Receiver      receiver.Stats   `json:"receiver" msgpack:"receiver"`
	Pacer         pacer.Stats      `json:"pacer" msgpack:"pacer"`
	Presented     uint64           `json:"presented" msgpack:"presented"`
	Saver         *sink.SaverStats `json:"saver,omitempty" msgpack:"saver,omitempty"`
	Preview       *preview.Stats   `json:"preview,omitempty" msgpack:"preview,omitempty"`
	Telemetry     *telemetry.Stats `json:"telemetry,omitempty" msgpack:"telemetry,omitempty"`
}

// Health is the small record published on the health topic.
type Health struct {
	Status        string  `json:"status" msgpack:"status"` // "healthy", "degraded", "unhealthy"
	Reason        string  `json:"reason,omitempty" msgpack:"reason,omitempty"`
	SessionID     string  `json:"session_id" msgpack:"session_id"`
	UptimeSeconds float64 `json:"uptime_seconds" msgpack:"uptime_seconds"`
	FramesPushed  uint64  `json:"frames_pushed" msgpack:"frames_pushed"`
	Delivered     uint64  `json:"delivered" msgpack:"delivered"`
	Underruns     uint64  `json:"underruns" msgpack:"underruns"`
	FPS           float64 `json:"fps" msgpack:"fps"`
}

// Stats returns a snapshot of every component's counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	var uptime float64
	if !started.IsZero() {
		uptime = time.Since(started).Seconds()
	}
	ready, _ := s.Ready()

	st := Stats{
		SessionID:     s.id,
		InstanceID:    s.cfg.InstanceID,
		UptimeSeconds: uptime,
		Ready:         ready,
		Ring: RingStats{
			Stats:     s.ring.Stats(),
			Capacity:  s.ring.Capacity(),
			Occupancy: s.ring.Occupancy(),
			Policy:    s.ring.Policy().String(),
		},
		Receiver:  s.loop.Stats(),
		Pacer:     s.pacer.Stats(),
		Presented: s.snapshot.Presented(),
	}
	if s.saver != nil {
		v := s.saver.Stats()
		st.Saver = &v
	}
	if s.preview != nil {
		v := s.preview.Stats()
		st.Preview = &v
	}
	if s.emitter != nil {
		v := s.emitter.Stats()
		st.Telemetry = &v
	}
	return st
}

// Health derives the health record from the current stats.
//
//	healthy    receiver running and pacer steady
//	degraded   receiver running, pacer warming up (stalled or starting)
//	unhealthy  receiver not running
func (s *Session) Health() Health {
	st := s.Stats()
	ready, reason := s.Ready()

	h := Health{
		Status:        "healthy",
		Reason:        reason,
		SessionID:     st.SessionID,
		UptimeSeconds: st.UptimeSeconds,
		FramesPushed:  st.Receiver.FramesPushed,
		Delivered:     st.Pacer.Delivered,
		Underruns:     st.Pacer.Underruns,
		FPS:           st.Receiver.Arrival.FPSMean,
	}
	switch {
	case ready:
	case s.loop.State() == receiver.StateRunning:
		h.Status = "degraded"
	default:
		h.Status = "unhealthy"
	}
	return h
}

// report feeds the telemetry emitter.
func (s *Session) report() (any, any) {
	return s.Stats(), s.Health()
}

// logStats periodically logs one line per component.
func (s *Session) logStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.printLiveStats()
		}
	}
}

func (s *Session) printLiveStats() {
	st := s.Stats()

	dropRate := 0.0
	if st.Ring.Pushed > 0 {
		dropRate = float64(st.Ring.Evicted) / float64(st.Ring.Pushed) * 100
	}

	slog.Info("monitor: stats",
		"uptime", time.Duration(st.UptimeSeconds*float64(time.Second)).Round(time.Second),
		"ready", st.Ready,
		"frames_received", st.Receiver.FramesReceived,
		"frames_pushed", st.Receiver.FramesPushed,
		"normalize_failures", st.Receiver.Normalize.Failed(),
		"receive_errors", st.Receiver.ReceiveErrors.Total(),
		"arrival_fps", round2(st.Receiver.Arrival.FPSMean),
		"arrival_jitter_ms", round2(st.Receiver.Arrival.JitterMean*1000),
		"arrival_stable", st.Receiver.Arrival.IsStable,
		"ring_occupancy", st.Ring.Occupancy,
		"ring_evicted", st.Ring.Evicted,
		"ring_drop_rate_pct", round2(dropRate),
		"pacer_state", st.Pacer.State,
		"delivered", st.Pacer.Delivered,
		"underruns", st.Pacer.Underruns,
	)
	if st.Saver != nil {
		slog.Info("monitor: saver stats", "saved", st.Saver.Saved, "dropped", st.Saver.Dropped, "failed", st.Saver.Failed)
	}
	if st.Preview != nil {
		slog.Info("monitor: preview stats", "stream_clients", st.Preview.StreamClients, "stream_frames", st.Preview.StreamFrames)
	}
	if st.Telemetry != nil {
		slog.Info("monitor: telemetry stats", "connected", st.Telemetry.Connected, "errors", st.Telemetry.Errors)
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
