package sessionlog

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/realtime"
	"github.com/revealcanvas/backend/pkg/queue"
)

// Writer persists or forwards one activity event.
type Writer interface {
	WriteActivity(ctx context.Context, a queue.ActivityPayload) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, a queue.ActivityPayload) error

// WriteActivity implements Writer.
func (f WriterFunc) WriteActivity(ctx context.Context, a queue.ActivityPayload) error { return f(ctx, a) }

// QueueWriter forwards activity to the Redis job queue for cmd/worker.
func QueueWriter(q *queue.Queue) Writer { return WriterFunc(q.EnqueueActivity) }

// RepositoryWriter writes activity straight to Postgres.
func RepositoryWriter(r *Repository) Writer { return WriterFunc(r.Apply) }

// Publisher is a realtime.ActivitySink that hands activity to a Writer off the session loop.
// When its buffer is full, events are dropped and counted.
type Publisher struct {
	ch      chan queue.ActivityPayload
	writer  Writer
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewPublisher creates a publisher with the given buffer size.
func NewPublisher(w Writer, buffer int, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Publisher{ch: make(chan queue.ActivityPayload, buffer), writer: w, logger: logger}
}

// Record implements realtime.ActivitySink.
func (p *Publisher) Record(a realtime.Activity) {
	payload := queue.ActivityPayload{
		Kind:          string(a.Kind),
		SessionID:     a.SessionID,
		ParticipantID: a.ParticipantID,
		Nickname:      a.Nickname,
		Color:         a.Color,
		Strokes:       a.Strokes,
		At:            a.At,
	}
	select {
	case p.ch <- payload:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warn("activity buffer full, dropping", zap.Int64("dropped", n))
		}
	}
}

// Dropped returns how many events were discarded.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Run writes buffered activity until ctx is done, then flushes what is left.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case a := <-p.ch:
			p.write(ctx, a)
		}
	}
}

func (p *Publisher) flush() {
	ctx := context.Background()
	for {
		select {
		case a := <-p.ch:
			p.write(ctx, a)
		default:
			return
		}
	}
}

func (p *Publisher) write(ctx context.Context, a queue.ActivityPayload) {
	if err := p.writer.WriteActivity(ctx, a); err != nil {
		p.logger.Warn("write activity failed",
			zap.String("kind", a.Kind),
			zap.String("session_id", a.SessionID),
			zap.Error(err))
	}
}
