package pipeline

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// PositionSource is a polled raw position device (eye tracker, mouse). It reports false when
// there is no signal.
type PositionSource interface {
	CurrentPosition() (Point, bool)
}

// SourceFunc adapts a function to PositionSource.
type SourceFunc func() (Point, bool)

// CurrentPosition implements PositionSource.
func (f SourceFunc) CurrentPosition() (Point, bool) { return f() }

// LatestSource holds the most recent position pushed by an event-driven device.
type LatestSource struct {
	mu sync.Mutex
	p  Point
	ok bool
}

// Set records a new position.
func (s *LatestSource) Set(p Point) {
	s.mu.Lock()
	s.p, s.ok = p, true
	s.mu.Unlock()
}

// Lost marks the signal as absent until the next Set.
func (s *LatestSource) Lost() {
	s.mu.Lock()
	s.ok = false
	s.mu.Unlock()
}

// CurrentPosition implements PositionSource.
func (s *LatestSource) CurrentPosition() (Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p, s.ok
}

// PathFunc maps elapsed time to a position.
type PathFunc func(elapsed time.Duration) Point

// Circle traces a circle of radius r around (cx, cy) once per period.
func Circle(cx, cy, r float64, period time.Duration) PathFunc {
	return func(elapsed time.Duration) Point {
		a := 2 * math.Pi * elapsed.Seconds() / period.Seconds()
		return Point{X: cx + r*math.Cos(a), Y: cy + r*math.Sin(a)}
	}
}

// Lissajous traces a Lissajous figure filling a w×h box at the origin.
func Lissajous(w, h float64, a, b float64, period time.Duration) PathFunc {
	return func(elapsed time.Duration) Point {
		t := 2 * math.Pi * elapsed.Seconds() / period.Seconds()
		return Point{
			X: w/2 + (w/2)*math.Sin(a*t+math.Pi/2),
			Y: h/2 + (h/2)*math.Sin(b*t),
		}
	}
}

// ScriptedSource follows a path over time with optional deterministic jitter, standing in for a
// tracker in headless clients.
type ScriptedSource struct {
	clock  clockwork.Clock
	start  time.Time
	path   PathFunc
	jitter float64
	n      uint64
}

// NewScriptedSource starts a scripted source at the clock's current time.
func NewScriptedSource(clock clockwork.Clock, path PathFunc, jitter float64) *ScriptedSource {
	return &ScriptedSource{clock: clock, start: clock.Now(), path: path, jitter: jitter}
}

// CurrentPosition implements PositionSource.
func (s *ScriptedSource) CurrentPosition() (Point, bool) {
	p := s.path(s.clock.Since(s.start))
	if s.jitter > 0 {
		// alternating-sign noise bounded by jitter
		s.n++
		k := float64(s.n%7) / 6
		sign := 1.0
		if s.n%2 == 0 {
			sign = -1
		}
		p.X += sign * s.jitter * k
		p.Y -= sign * s.jitter * (1 - k)
	}
	return p, true
}
