// Package history keeps the bounded, replayable stroke history of a canvas session.
package history

import (
	"sync"

	"github.com/revealcanvas/backend/internal/protocol"
)

// DefaultMaxHistory is the number of strokes kept for late joiners.
const DefaultMaxHistory = 1000

// Store is an append-only sequence of strokes capped at a maximum length.
// The oldest strokes are evicted first when the cap is exceeded.
type Store struct {
	mu      sync.RWMutex
	strokes []protocol.StrokeRecord
	max     int
}

// NewStore creates a store holding at most max strokes. A non-positive max uses DefaultMaxHistory.
func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	return &Store{
		strokes: make([]protocol.StrokeRecord, 0, min(max, 64)),
		max:     max,
	}
}

// Append adds a stroke to the tail and evicts from the head until the cap holds.
// It reports how many strokes were evicted.
func (s *Store) Append(rec protocol.StrokeRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strokes = append(s.strokes, rec)
	evicted := 0
	if over := len(s.strokes) - s.max; over > 0 {
		// shift in place so the backing array does not grow without bound
		n := copy(s.strokes, s.strokes[over:])
		clear(s.strokes[n:])
		s.strokes = s.strokes[:n]
		evicted = over
	}
	return evicted
}

// Clear empties the history.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strokes = s.strokes[:0]
}

// Snapshot returns a point-in-time copy in append order.
func (s *Store) Snapshot() []protocol.StrokeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.StrokeRecord, len(s.strokes))
	copy(out, s.strokes)
	return out
}

// Len returns the number of stored strokes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.strokes)
}

// Cap returns the maximum number of strokes kept.
func (s *Store) Cap() int { return s.max }
