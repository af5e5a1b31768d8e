package pipeline

// DefaultMovementThreshold is the minimum smoothed movement, in surface pixels, that commits a
// new stroke.
const DefaultMovementThreshold = 8.0

// MotionState holds the last committed point of a client. It is nil until the first commit.
type MotionState struct {
	last *Point
}

// LastCommitted returns the last committed point.
func (s *MotionState) LastCommitted() (Point, bool) {
	if s.last == nil {
		return Point{}, false
	}
	return *s.last, true
}

// Commit records p as the last committed point.
func (s *MotionState) Commit(p Point) {
	s.last = &p
}

// Reset forgets the last committed point.
func (s *MotionState) Reset() {
	s.last = nil
}

// Decision is the outcome of a gate check.
type Decision struct {
	Emit     bool
	Distance float64
	// First is set when there was no committed point; the caller paints a single dab.
	First bool
}

// MotionGate suppresses strokes for sub-threshold movement.
type MotionGate struct {
	Threshold float64
}

// NewMotionGate creates a gate with the given threshold.
func NewMotionGate(threshold float64) MotionGate {
	return MotionGate{Threshold: threshold}
}

// ShouldEmit reports whether moving to (x, y) from the state's last committed point emits a
// stroke. It does not modify state.
func (g MotionGate) ShouldEmit(x, y float64, state *MotionState) Decision {
	last, ok := state.LastCommitted()
	if !ok {
		return Decision{Emit: true, First: true}
	}
	d := Distance(last, Point{X: x, Y: y})
	return Decision{Emit: d >= g.Threshold, Distance: d}
}
