package realtime

import "time"

// ActivityKind names a session lifecycle event worth logging outside the relay.
type ActivityKind string

const (
	ActivityJoin  ActivityKind = "join"
	ActivityLeave ActivityKind = "leave"
	ActivityReset ActivityKind = "reset"
)

// Activity is a presence or reset event emitted by a session.
type Activity struct {
	Kind          ActivityKind `json:"kind"`
	SessionID     string       `json:"session_id"`
	ParticipantID string       `json:"participant_id"`
	Nickname      string       `json:"nickname"`
	Color         string       `json:"color"`
	Strokes       int          `json:"strokes"`
	At            time.Time    `json:"at"`
}

// ActivitySink receives activity from session loops. Record is called on the loop goroutine
// and must not block.
type ActivitySink interface {
	Record(a Activity)
}
