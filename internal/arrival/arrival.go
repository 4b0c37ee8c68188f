// Package arrival computes frame arrival rate and jitter statistics over a
// sliding window of presentation timestamps.
package arrival

import (
	"math"
	"sync"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// Example: 30 FPS mean → stable if stddev < 4.5 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of expected interval.
	// Example: 30 FPS (33ms interval) → stable if jitter < 6.6ms
	jitterStabilityThreshold = 0.20

	// DefaultWindow is the number of timestamps kept by NewWindow(0).
	DefaultWindow = 120
)

// Stats summarises arrival timing. Jitter values are in seconds.
type Stats struct {
	Frames       int     `json:"frames" msgpack:"frames"`
	FPSMean      float64 `json:"fps_mean" msgpack:"fps_mean"`
	FPSStdDev    float64 `json:"fps_stddev" msgpack:"fps_stddev"`
	FPSMin       float64 `json:"fps_min" msgpack:"fps_min"`
	FPSMax       float64 `json:"fps_max" msgpack:"fps_max"`
	JitterMean   float64 `json:"jitter_mean_s" msgpack:"jitter_mean_s"`
	JitterStdDev float64 `json:"jitter_stddev_s" msgpack:"jitter_stddev_s"`
	JitterMax    float64 `json:"jitter_max_s" msgpack:"jitter_max_s"`
	IsStable     bool    `json:"is_stable" msgpack:"is_stable"`
}

// Calculate computes statistics from timestamps in microseconds, oldest
// first.
//
// This function:
//  1. Calculates mean FPS over the covered span
//  2. Calculates instantaneous FPS for each interval, with min/max/stddev
//  3. Calculates jitter (deviation from the mean interval)
//  4. Determines stability (stddev < 15% of mean AND jitter < 20% of interval)
//
// Non-increasing timestamps contribute no instantaneous FPS sample.
func Calculate(timesUS []int64) Stats {
	n := len(timesUS)
	stats := Stats{Frames: n}
	if n < 2 {
		return stats
	}

	span := float64(timesUS[n-1]-timesUS[0]) / 1e6
	if span <= 0 {
		return stats
	}
	fpsMean := float64(n-1) / span
	stats.FPSMean = fpsMean

	intervals := make([]float64, 0, n-1)
	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		iv := float64(timesUS[i]-timesUS[i-1]) / 1e6
		intervals = append(intervals, iv)
		if iv > 0 {
			instantaneous = append(instantaneous, 1/iv)
		}
	}
	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1 / fpsMean
	var jitterSum float64
	jitters := make([]float64, len(intervals))
	for i, iv := range intervals {
		j := math.Abs(iv - expected)
		jitters[i] = j
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - stats.JitterMean
		jitterSquares += diff * diff
	}
	stats.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	stats.IsStable = stats.FPSStdDev < fpsMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold
	return stats
}

// Window keeps the most recent timestamps. Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	times []int64
	next  int
	full  bool
}

// NewWindow returns a window of the given size (DefaultWindow if <= 0).
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Window{times: make([]int64, size)}
}

// Add records one arrival timestamp in microseconds.
func (w *Window) Add(tsUS int64) {
	w.mu.Lock()
	w.times[w.next] = tsUS
	w.next++
	if w.next == len(w.times) {
		w.next = 0
		w.full = true
	}
	w.mu.Unlock()
}

// Stats computes statistics over the current window contents.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	var ordered []int64
	if w.full {
		ordered = make([]int64, 0, len(w.times))
		ordered = append(ordered, w.times[w.next:]...)
		ordered = append(ordered, w.times[:w.next]...)
	} else {
		ordered = append([]int64(nil), w.times[:w.next]...)
	}
	w.mu.Unlock()
	return Calculate(ordered)
}
