package sessionlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/revealcanvas/backend/pkg/queue"
)

// ErrNoOpenSession is returned when a leave has no matching join yet.
var ErrNoOpenSession = errors.New("no open participant session")

// AttendeeRow is one row for GET /sessions/:id/attendees.
type AttendeeRow struct {
	ParticipantID   string     `json:"participant_id"`
	Nickname        string     `json:"nickname"`
	Color           string     `json:"color"`
	JoinedAt        time.Time  `json:"joined_at"`
	LeftAt          *time.Time `json:"left_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
}

// ResetRow is one canvas reset.
type ResetRow struct {
	ParticipantID  string    `json:"participant_id"`
	Nickname       string    `json:"nickname"`
	StrokesCleared int       `json:"strokes_cleared"`
	ResetAt        time.Time `json:"reset_at"`
}

// Repository handles participant_sessions and canvas_resets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Apply persists one activity event.
func (r *Repository) Apply(ctx context.Context, a queue.ActivityPayload) error {
	switch a.Kind {
	case "join":
		return r.LogJoin(ctx, a.SessionID, a.ParticipantID, a.Nickname, a.Color, a.At)
	case "leave":
		return r.LogLeave(ctx, a.SessionID, a.ParticipantID, a.At)
	case "reset":
		return r.LogReset(ctx, a.SessionID, a.ParticipantID, a.Nickname, a.Strokes, a.At)
	default:
		return fmt.Errorf("unknown activity kind %q", a.Kind)
	}
}

// LogJoin inserts a row when a participant joins a session. Replaying the same join is a no-op.
func (r *Repository) LogJoin(ctx context.Context, sessionID, participantID, nickname, color string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO participant_sessions (session_id, participant_id, nickname, color, joined_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (participant_id) DO NOTHING`,
		sessionID, participantID, nickname, color, at)
	return err
}

// LogLeave closes the participant's open session.
func (r *Repository) LogLeave(ctx context.Context, sessionID, participantID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE participant_sessions
		 SET left_at = $3, duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - joined_at))::BIGINT)
		 WHERE session_id = $1 AND participant_id = $2 AND left_at IS NULL`,
		sessionID, participantID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoOpenSession
	}
	return nil
}

// LogReset records a canvas reset.
func (r *Repository) LogReset(ctx context.Context, sessionID, participantID, nickname string, cleared int, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO canvas_resets (session_id, participant_id, nickname, strokes_cleared, reset_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sessionID, participantID, nickname, cleared, at)
	return err
}

// ListBySession returns attendees of a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]AttendeeRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT participant_id, nickname, color, joined_at, left_at, duration_seconds
		 FROM participant_sessions WHERE session_id = $1 ORDER BY joined_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []AttendeeRow
	for rows.Next() {
		var row AttendeeRow
		if err := rows.Scan(&row.ParticipantID, &row.Nickname, &row.Color, &row.JoinedAt, &row.LeftAt, &row.DurationSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// ListResets returns the resets of a session, newest first.
func (r *Repository) ListResets(ctx context.Context, sessionID string) ([]ResetRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT participant_id, nickname, strokes_cleared, reset_at
		 FROM canvas_resets WHERE session_id = $1 ORDER BY reset_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ResetRow
	for rows.Next() {
		var row ResetRow
		if err := rows.Scan(&row.ParticipantID, &row.Nickname, &row.StrokesCleared, &row.ResetAt); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}
