package pipeline

import "time"

// DefaultSmoothingFrames is the canonical smoothing window size.
const DefaultSmoothingFrames = 5

// Sample is one raw position reading.
type Sample struct {
	X, Y float64
	At   time.Time
}

// SmoothingFilter averages the last N pushed samples.
type SmoothingFilter struct {
	window []Sample
	head   int
	n      int
}

// NewSmoothingFilter creates a filter with a window of size frames (DefaultSmoothingFrames if
// frames is not positive).
func NewSmoothingFilter(frames int) *SmoothingFilter {
	if frames <= 0 {
		frames = DefaultSmoothingFrames
	}
	return &SmoothingFilter{window: make([]Sample, frames)}
}

// Push adds a sample, evicting the oldest once the window is full, and returns the mean of the
// buffered samples.
func (f *SmoothingFilter) Push(x, y float64) (avgX, avgY float64) {
	return f.PushSample(Sample{X: x, Y: y})
}

// PushSample is Push with a timestamped sample.
func (f *SmoothingFilter) PushSample(s Sample) (avgX, avgY float64) {
	f.window[f.head] = s
	f.head = (f.head + 1) % len(f.window)
	if f.n < len(f.window) {
		f.n++
	}
	var sumX, sumY float64
	for _, w := range f.buffered() {
		sumX += w.X
		sumY += w.Y
	}
	return sumX / float64(f.n), sumY / float64(f.n)
}

// Samples returns the buffered samples, oldest first.
func (f *SmoothingFilter) Samples() []Sample {
	out := make([]Sample, 0, f.n)
	start := (f.head - f.n + len(f.window)) % len(f.window)
	for i := 0; i < f.n; i++ {
		out = append(out, f.window[(start+i)%len(f.window)])
	}
	return out
}

func (f *SmoothingFilter) buffered() []Sample {
	if f.n == len(f.window) {
		return f.window
	}
	return f.Samples()
}

// Len returns the number of buffered samples.
func (f *SmoothingFilter) Len() int { return f.n }

// Size returns the window capacity.
func (f *SmoothingFilter) Size() int { return len(f.window) }

// Reset empties the window.
func (f *SmoothingFilter) Reset() {
	clear(f.window)
	f.head = 0
	f.n = 0
}
