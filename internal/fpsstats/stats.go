// Package fpsstats measures frame-rate and jitter from frame arrival times.
package fpsstats

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// Example: 30 FPS mean → stable if stddev < 4.5 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of expected interval.
	// Example: 30 FPS (33ms interval) → stable if jitter < 6.6ms
	jitterStabilityThreshold = 0.20

	// DefaultWindowSize is the number of arrivals a Window keeps
	DefaultWindowSize = 120
)

// Stats contains frame-rate statistics over a set of arrivals
type Stats struct {
	FramesReceived int           // Number of arrivals measured
	Duration       time.Duration // Measurement span
	FPSMean        float64       // Mean FPS across all frames
	FPSStdDev      float64       // Standard deviation of instantaneous FPS
	FPSMin         float64       // Minimum instantaneous FPS
	FPSMax         float64       // Maximum instantaneous FPS
	IsStable       bool          // stddev < 15% of mean AND jitter < 20% of interval
	JitterMean     float64       // Average inter-frame interval deviation (seconds)
	JitterStdDev   float64       // Standard deviation of jitter (seconds)
	JitterMax      float64       // Maximum jitter observed (seconds)
}

// Calculate computes FPS statistics from frame arrival times
//
// This function:
//  1. Calculates mean FPS (overall)
//  2. Calculates instantaneous FPS for each frame interval
//  3. Finds min/max instantaneous FPS
//  4. Calculates standard deviation of instantaneous FPS
//  5. Calculates jitter statistics (inter-frame interval variance)
//  6. Determines stability (stddev < 15% of mean AND jitter < 20%)
func Calculate(frameTimes []time.Time, totalDuration time.Duration) Stats {
	n := len(frameTimes)
	if n == 0 || totalDuration <= 0 {
		return Stats{FramesReceived: n, Duration: totalDuration}
	}

	fpsMean := float64(n) / totalDuration.Seconds()

	instantaneousFPS := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneousFPS = append(instantaneousFPS, 1.0/interval)
		}
	}

	if len(instantaneousFPS) == 0 {
		return Stats{
			FramesReceived: n,
			Duration:       totalDuration,
			FPSMean:        fpsMean,
		}
	}

	fpsMin := instantaneousFPS[0]
	fpsMax := instantaneousFPS[0]
	var sumSquares float64
	for _, fps := range instantaneousFPS {
		if fps < fpsMin {
			fpsMin = fps
		}
		if fps > fpsMax {
			fpsMax = fps
		}
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneousFPS)))

	// Jitter = deviation from the expected inter-frame interval
	expectedInterval := 1.0 / fpsMean

	var jitterSum, jitterMax float64
	jitters := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		actual := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		j := math.Abs(actual - expectedInterval)
		jitters = append(jitters, j)
		jitterSum += j
		if j > jitterMax {
			jitterMax = j
		}
	}
	jitterMean := jitterSum / float64(len(jitters))

	var jitterSumSquares float64
	for _, j := range jitters {
		diff := j - jitterMean
		jitterSumSquares += diff * diff
	}
	jitterStdDev := math.Sqrt(jitterSumSquares / float64(len(jitters)))

	fpsStable := fpsStdDev < (fpsMean * fpsStabilityThreshold)
	jitterStable := jitterMean < (expectedInterval * jitterStabilityThreshold)

	return Stats{
		FramesReceived: n,
		Duration:       totalDuration,
		FPSMean:        fpsMean,
		FPSStdDev:      fpsStdDev,
		FPSMin:         fpsMin,
		FPSMax:         fpsMax,
		IsStable:       fpsStable && jitterStable,
		JitterMean:     jitterMean,
		JitterStdDev:   jitterStdDev,
		JitterMax:      jitterMax,
	}
}

// Window is a bounded ring of recent arrival times, safe for concurrent use
type Window struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	count int
}

// NewWindow creates a window holding the last size arrivals
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{times: make([]time.Time, size)}
}

// Add records an arrival
func (w *Window) Add(t time.Time) {
	w.mu.Lock()
	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.count < len(w.times) {
		w.count++
	}
	w.mu.Unlock()
}

// Reset forgets all arrivals
func (w *Window) Reset() {
	w.mu.Lock()
	w.next = 0
	w.count = 0
	w.mu.Unlock()
}

// Len returns the number of arrivals held
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Last returns the most recent arrival (zero if empty)
func (w *Window) Last() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return time.Time{}
	}
	return w.times[(w.next-1+len(w.times))%len(w.times)]
}

// Stats measures the held arrivals over the span from the oldest one to now
func (w *Window) Stats(now time.Time) Stats {
	w.mu.Lock()
	ordered := make([]time.Time, 0, w.count)
	start := (w.next - w.count + len(w.times)) % len(w.times)
	for i := 0; i < w.count; i++ {
		ordered = append(ordered, w.times[(start+i)%len(w.times)])
	}
	w.mu.Unlock()

	if len(ordered) == 0 {
		return Stats{}
	}
	return Calculate(ordered, now.Sub(ordered[0]))
}
