package wsclient

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/revealcanvas/backend/internal/protocol"
)

// DefaultCursorTTL hides a remote cursor that has not moved for this long.
const DefaultCursorTTL = 3 * time.Second

type cursorEntry struct {
	pos  protocol.CursorPosition
	seen time.Time
}

// CursorTracker keeps the last known position of every remote participant's cursor.
type CursorTracker struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	ttl     time.Duration
	cursors map[string]cursorEntry
}

// NewCursorTracker creates a tracker. A nil clock uses the real clock.
func NewCursorTracker(clock clockwork.Clock, ttl time.Duration) *CursorTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultCursorTTL
	}
	return &CursorTracker{clock: clock, ttl: ttl, cursors: make(map[string]cursorEntry)}
}

// Update records a cursor position.
func (t *CursorTracker) Update(pos protocol.CursorPosition) {
	if pos.ParticipantID == "" {
		return
	}
	t.mu.Lock()
	t.cursors[pos.ParticipantID] = cursorEntry{pos: pos, seen: t.clock.Now()}
	t.mu.Unlock()
}

// Remove forgets a participant's cursor.
func (t *CursorTracker) Remove(participantID string) {
	t.mu.Lock()
	delete(t.cursors, participantID)
	t.mu.Unlock()
}

// Visible returns the cursors updated within the TTL, ordered by participant id. Expired
// entries are dropped.
func (t *CursorTracker) Visible() []protocol.CursorPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	out := make([]protocol.CursorPosition, 0, len(t.cursors))
	for id, e := range t.cursors {
		if now.Sub(e.seen) >= t.ttl {
			delete(t.cursors, id)
			continue
		}
		out = append(out, e.pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
