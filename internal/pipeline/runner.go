package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrRunning is returned by Start when the runner is already ticking.
var ErrRunning = errors.New("pipeline runner already running")

// Runner drives a Pipeline on a fixed period. Stopping it is the only way to cancel pending
// ticks; it must be stopped at calibration start and on teardown.
type Runner struct {
	p        *Pipeline
	clock    clockwork.Clock
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	onTick func(Result)
}

// NewRunner creates a runner. A nil clock uses the real clock.
func NewRunner(p *Pipeline, clock clockwork.Clock, interval time.Duration, logger *zap.Logger) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{p: p, clock: clock, interval: interval, logger: logger}
}

// OnTick registers a callback invoked after every tick (status display, tests).
func (r *Runner) OnTick(fn func(Result)) {
	r.mu.Lock()
	r.onTick = fn
	r.mu.Unlock()
}

// Start begins ticking until ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	ticker := r.clock.NewTicker(r.interval)
	go r.loop(ctx, ticker, r.done)
	r.logger.Debug("pipeline runner started", zap.Duration("interval", r.interval))
	return nil
}

func (r *Runner) loop(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer r.release(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.Chan():
			// a Stop racing with a pending tick must win
			if ctx.Err() != nil {
				return
			}
			res := r.p.Tick(now)
			r.mu.Lock()
			fn := r.onTick
			r.mu.Unlock()
			if fn != nil {
				fn(res)
			}
		}
	}
}

// release forgets the loop identified by done when it exits on its own, e.g. because the
// parent context was cancelled, so the runner can be started again.
func (r *Runner) release(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != done {
		return
	}
	r.cancel()
	r.cancel, r.done = nil, nil
}

// Stop cancels the ticker and waits for the loop to exit. It is a no-op when not running.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Debug("pipeline runner stopped")
}

// Running reports whether the runner is ticking.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// BeginCalibration stops ticking and clears the pipeline so no stroke is painted while the
// tracker is being calibrated.
func (r *Runner) BeginCalibration() {
	r.Stop()
	r.p.Reset()
}

// EndCalibration resumes ticking.
func (r *Runner) EndCalibration(ctx context.Context) error {
	return r.Start(ctx)
}
