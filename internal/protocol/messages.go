// Package protocol defines the wire contract shared by the relay server and canvas clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Event names carried in the envelope.
const (
	EventWelcome           = "welcome"
	EventParticipantJoined = "participant-joined"
	EventParticipantList   = "participant-list"
	EventParticipantLeft   = "participant-left"
	EventStroke            = "stroke"
	EventCursorPosition    = "cursor-position"
	EventReset             = "reset"
)

// ErrMalformed is returned when an inbound payload is missing or has non-finite numeric fields.
var ErrMalformed = errors.New("malformed payload")

// Message is the WebSocket message envelope.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals payload into an envelope.
func NewMessage(event string, payload interface{}) (Message, error) {
	if payload == nil {
		return Message{Event: event, Data: json.RawMessage(`{}`)}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}

// StrokeRecord is one reveal segment between two surface points.
type StrokeRecord struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Participant is the presence metadata of one live connection.
type Participant struct {
	ID       string `json:"participantId"`
	Color    string `json:"color"`
	Nickname string `json:"nickname"`
}

// Welcome is sent once to a connection when it becomes active.
type Welcome struct {
	ParticipantID string         `json:"participantId"`
	Color         string         `json:"color"`
	Nickname      string         `json:"nickname"`
	History       []StrokeRecord `json:"history"`
	Brush         BrushConfig    `json:"brush"`
}

// ParticipantList is the full presence set.
type ParticipantList struct {
	Participants []Participant `json:"participants"`
}

// ParticipantLeft announces a departure.
type ParticipantLeft struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
}

// CursorPosition is an ephemeral pointer update. Sender fields are filled in by the relay.
type CursorPosition struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	ParticipantID string  `json:"participantId,omitempty"`
	Color         string  `json:"color,omitempty"`
	Nickname      string  `json:"nickname,omitempty"`
}

// DecodeStroke parses a stroke payload. All four coordinates must be present and finite;
// values outside the surface bounds are accepted as-is.
func DecodeStroke(data json.RawMessage) (StrokeRecord, error) {
	var raw struct {
		X1 *float64 `json:"x1"`
		Y1 *float64 `json:"y1"`
		X2 *float64 `json:"x2"`
		Y2 *float64 `json:"y2"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return StrokeRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.X1 == nil || raw.Y1 == nil || raw.X2 == nil || raw.Y2 == nil {
		return StrokeRecord{}, fmt.Errorf("%w: stroke requires x1, y1, x2, y2", ErrMalformed)
	}
	s := StrokeRecord{X1: *raw.X1, Y1: *raw.Y1, X2: *raw.X2, Y2: *raw.Y2}
	if !finite(s.X1, s.Y1, s.X2, s.Y2) {
		return StrokeRecord{}, fmt.Errorf("%w: non-finite stroke coordinate", ErrMalformed)
	}
	return s, nil
}

// DecodeCursor parses a cursor-position payload. Only x and y are read from the sender.
func DecodeCursor(data json.RawMessage) (CursorPosition, error) {
	var raw struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return CursorPosition{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.X == nil || raw.Y == nil {
		return CursorPosition{}, fmt.Errorf("%w: cursor requires x, y", ErrMalformed)
	}
	if !finite(*raw.X, *raw.Y) {
		return CursorPosition{}, fmt.Errorf("%w: non-finite cursor coordinate", ErrMalformed)
	}
	return CursorPosition{X: *raw.X, Y: *raw.Y}, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
