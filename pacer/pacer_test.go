package pacer

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denisgrzechnik/LayerMapper-NDI/framering"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

type recorder struct {
	mu   sync.Mutex
	seqs []uint64
}

func (r *recorder) Present(f video.PixelFrame) {
	r.mu.Lock()
	r.seqs = append(r.seqs, f.Seq())
	r.mu.Unlock()
}

func (r *recorder) presented() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

func frame(t *testing.T, seq uint64) video.PixelFrame {
	t.Helper()
	f, err := video.NewPixelFrame(1, 1, 4, make([]byte, 4), int64(seq)*33333, video.DefaultColorTags())
	require.NoError(t, err)
	return f.WithSequence(seq, "")
}

func newRing(t *testing.T) *framering.Ring[video.PixelFrame] {
	t.Helper()
	r, err := framering.New[video.PixelFrame](8, framering.DropOldest)
	require.NoError(t, err)
	return r
}

func TestNew_Validation(t *testing.T) {
	ring := newRing(t)
	rec := &recorder{}

	tests := []struct {
		name string
		buf  Buffer
		sink Presenter
		cfg  Config
	}{
		{"nil buffer", nil, rec, Config{}},
		{"nil sink", ring, nil, Config{}},
		{"negative rate", ring, rec, Config{TargetRate: -1}},
		{"NaN rate", ring, rec, Config{TargetRate: math.NaN()}},
		{"infinite rate", ring, rec, Config{TargetRate: math.Inf(1)}},
		{"sub-nanosecond period", ring, rec, Config{TargetRate: 1e12}},
		{"negative threshold", ring, rec, Config{WarmupThreshold: -2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.buf, tt.sink, tt.cfg)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	p, err := New(ring, rec, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTargetRate, p.Config().TargetRate)
	assert.Equal(t, DefaultWarmupThreshold, p.Config().WarmupThreshold)
	assert.Equal(t, StateWarmingUp, p.State())
}

// TestTick_WarmupUnderrunScenario walks the full hysteresis cycle with a
// warm-up threshold of 3.
func TestTick_WarmupUnderrunScenario(t *testing.T) {
	ring := newRing(t)
	rec := &recorder{}
	p, err := New(ring, rec, Config{WarmupThreshold: 3})
	require.NoError(t, err)

	ring.Push(frame(t, 1))
	ring.Push(frame(t, 2))

	// Ticks 1-2: occupancy 2, nothing delivered.
	assert.False(t, p.Tick())
	assert.False(t, p.Tick())
	assert.Equal(t, StateWarmingUp, p.State())
	assert.Empty(t, rec.presented())

	// Tick 3: occupancy reaches 3, steady, oldest delivered.
	ring.Push(frame(t, 3))
	assert.True(t, p.Tick())
	assert.Equal(t, StateSteady, p.State())
	assert.Equal(t, []uint64{1}, rec.presented())

	// Drain.
	assert.True(t, p.Tick())
	assert.True(t, p.Tick())
	assert.Equal(t, 0, ring.Occupancy())

	// Underrun: back to warming-up, nothing delivered.
	assert.False(t, p.Tick())
	assert.Equal(t, StateWarmingUp, p.State())

	// Stays idle until a fresh cushion of 3.
	ring.Push(frame(t, 4))
	ring.Push(frame(t, 5))
	assert.False(t, p.Tick())
	ring.Push(frame(t, 6))
	assert.True(t, p.Tick())
	assert.Equal(t, StateSteady, p.State())

	assert.Equal(t, []uint64{1, 2, 3, 4}, rec.presented())

	s := p.Stats()
	assert.Equal(t, uint64(8), s.Ticks)
	assert.Equal(t, uint64(4), s.Delivered)
	assert.Equal(t, uint64(4), s.IdleTicks)
	assert.Equal(t, uint64(1), s.Underruns)
	assert.Equal(t, uint64(2), s.WarmupEntries)
	assert.Equal(t, uint64(4), s.LastSeq)
	assert.Equal(t, "steady", s.State)
	assert.False(t, s.LastPresented.IsZero())
	t.Logf("✅ warm-up → steady → underrun → warm-up → steady")
}

func TestTick_ThresholdOneNeverStallsWhileFed(t *testing.T) {
	ring := newRing(t)
	rec := &recorder{}
	p, err := New(ring, rec, Config{WarmupThreshold: 1})
	require.NoError(t, err)

	for i := uint64(1); i <= 10; i++ {
		ring.Push(frame(t, i))
		require.True(t, p.Tick(), "tick %d", i)
	}
	assert.Equal(t, uint64(0), p.Stats().Underruns)
}

func TestRun_ExternalClock(t *testing.T) {
	ring := newRing(t)
	rec := &recorder{}
	p, err := New(ring, rec, Config{WarmupThreshold: 2})
	require.NoError(t, err)

	for i := uint64(1); i <= 4; i++ {
		ring.Push(frame(t, i))
	}

	clock := make(chan time.Time)
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), clock) }()

	for i := 0; i < 5; i++ {
		clock <- time.Now()
	}
	close(clock)

	select {
	case err := <-done:
		require.NoError(t, err, "closed clock returns nil")
	case <-time.After(time.Second):
		t.Fatal("Run did not return after clock closed")
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, rec.presented())
	assert.Equal(t, uint64(5), p.Stats().Ticks)
	assert.Equal(t, StateWarmingUp, p.State())
}

func TestRun_InternalTickerAndCancel(t *testing.T) {
	ring := newRing(t)
	rec := &recorder{}
	p, err := New(ring, rec, Config{TargetRate: 200, WarmupThreshold: 1})
	require.NoError(t, err)
	ring.Push(frame(t, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, nil) }()

	require.Eventually(t, func() bool { return p.Stats().Ticks >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not observe cancellation")
	}
	assert.Equal(t, []uint64{1}, rec.presented())
}

func TestRun_FastestAcceptedRate(t *testing.T) {
	p, err := New(newRing(t), &recorder{}, Config{TargetRate: 1e9})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(p.Run(ctx, nil), context.DeadlineExceeded))
	assert.Greater(t, p.Stats().Ticks, uint64(0))
	t.Logf("✅ 1ns period runs without panicking")
}

func TestPresenterFunc(t *testing.T) {
	var got uint64
	PresenterFunc(func(f video.PixelFrame) { got = f.Seq() }).Present(frame(t, 7))
	assert.Equal(t, uint64(7), got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "warming-up", StateWarmingUp.String())
	assert.Equal(t, "steady", StateSteady.String())
	assert.Equal(t, "State(9)", State(9).String())
}
