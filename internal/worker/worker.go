package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/sessionlog"
	"github.com/revealcanvas/backend/pkg/queue"
)

// JobSource is the queue the worker drains.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ActivityStore persists activity events.
type ActivityStore interface {
	Apply(ctx context.Context, a queue.ActivityPayload) error
}

// ActivityProcessor processes activity jobs: decode the payload and write it to Postgres.
type ActivityProcessor struct {
	store   ActivityStore
	queue   JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewActivityProcessor creates an activity processor.
func NewActivityProcessor(store ActivityStore, q JobSource, logger *zap.Logger) *ActivityProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityProcessor{store: store, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one activity job.
func (p *ActivityProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeActivity {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	payload, err := job.Activity()
	if err != nil {
		return err
	}
	if err := p.store.Apply(ctx, payload); err != nil {
		if errors.Is(err, sessionlog.ErrNoOpenSession) {
			p.logger.Debug("leave arrived before join", zap.String("participant_id", payload.ParticipantID))
		}
		return fmt.Errorf("apply %s: %w", payload.Kind, err)
	}
	p.logger.Debug("activity stored",
		zap.String("job_id", job.ID),
		zap.String("kind", payload.Kind),
		zap.String("session_id", payload.SessionID))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ActivityProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("activity worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
			continue
		}
	}
}

func (p *ActivityProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
