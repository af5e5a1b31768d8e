package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/protocol"
)

// Default tick and cursor rates.
const (
	DefaultTickInterval   = 30 * time.Millisecond
	DefaultCursorInterval = 100 * time.Millisecond
)

// Config parameterizes the input-to-stroke pipeline.
type Config struct {
	SmoothingFrames   int
	MovementThreshold float64
	Brush             protocol.BrushConfig
	// Width and Height bound accepted samples; zero disables the check.
	Width, Height  float64
	TickInterval   time.Duration
	CursorInterval time.Duration
}

// DefaultConfig returns the canonical pipeline parameters.
func DefaultConfig() Config {
	return Config{
		SmoothingFrames:   DefaultSmoothingFrames,
		MovementThreshold: DefaultMovementThreshold,
		Brush:             protocol.DefaultBrush(),
		TickInterval:      DefaultTickInterval,
		CursorInterval:    DefaultCursorInterval,
	}
}

// Sender transmits locally produced events. Implementations must not block for long.
type Sender interface {
	SendStroke(rec protocol.StrokeRecord) error
	SendCursor(x, y float64) error
}

// Result describes what a single tick did.
type Result struct {
	HasSample bool
	Smoothed  Point
	Decision  Decision
	Stroke    *protocol.StrokeRecord
	Ops       int
}

// Pipeline runs smoothing, gating and emission for one client. It is safe for concurrent use:
// ticks, remote strokes and resets serialize on one mutex so painting never interleaves.
type Pipeline struct {
	mu         sync.Mutex
	cfg        Config
	source     PositionSource
	filter     *SmoothingFilter
	gate       MotionGate
	state      MotionState
	emitter    *StrokeEmitter
	sink       PaintSink
	sender     Sender
	lastCursor time.Time
	logger     *zap.Logger
}

// New creates a pipeline. sender may be nil for an offline surface.
func New(cfg Config, source PositionSource, sink PaintSink, sender Sender, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:     cfg,
		source:  source,
		filter:  NewSmoothingFilter(cfg.SmoothingFrames),
		gate:    NewMotionGate(cfg.MovementThreshold),
		emitter: NewStrokeEmitter(cfg.Brush),
		sink:    sink,
		sender:  sender,
		logger:  logger,
	}
}

// Tick polls the source once and runs the sample through the pipeline.
func (p *Pipeline) Tick(now time.Time) Result {
	pos, ok := p.source.CurrentPosition()
	if !ok {
		return Result{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inBounds(pos) {
		return Result{}
	}

	p.maybeSendCursor(now, pos)

	sx, sy := p.filter.PushSample(Sample{X: pos.X, Y: pos.Y, At: now})
	res := Result{HasSample: true, Smoothed: Point{X: sx, Y: sy}}
	res.Decision = p.gate.ShouldEmit(sx, sy, &p.state)
	if !res.Decision.Emit {
		return res
	}

	var rec protocol.StrokeRecord
	if res.Decision.First {
		// sent as a degenerate record, which receivers also draw as one dab
		p.emitter.Dab(p.sink, sx, sy)
		rec = protocol.StrokeRecord{X1: sx, Y1: sy, X2: sx, Y2: sy}
		res.Ops = 1
	} else {
		from, _ := p.state.LastCommitted()
		var ops []PaintOp
		ops, rec = p.emitter.Emit(from.X, from.Y, sx, sy)
		for _, op := range ops {
			p.sink.Paint(op.X, op.Y, op.Radius, op.Opacity)
		}
		res.Ops = len(ops)
	}
	p.state.Commit(Point{X: sx, Y: sy})
	res.Stroke = &rec

	if p.sender != nil {
		if err := p.sender.SendStroke(rec); err != nil {
			p.logger.Debug("send stroke", zap.Error(err))
		}
	}
	return res
}

func (p *Pipeline) inBounds(pos Point) bool {
	if p.cfg.Width <= 0 || p.cfg.Height <= 0 {
		return true
	}
	return pos.X >= 0 && pos.Y >= 0 && pos.X <= p.cfg.Width && pos.Y <= p.cfg.Height
}

func (p *Pipeline) maybeSendCursor(now time.Time, pos Point) {
	if p.sender == nil {
		return
	}
	if !p.lastCursor.IsZero() && now.Sub(p.lastCursor) < p.cfg.CursorInterval {
		return
	}
	p.lastCursor = now
	if err := p.sender.SendCursor(pos.X, pos.Y); err != nil {
		p.logger.Debug("send cursor", zap.Error(err))
	}
}

// ApplyRemote paints a stroke received from another participant. Remote strokes bypass
// smoothing and gating.
func (p *Pipeline) ApplyRemote(rec protocol.StrokeRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitter.Draw(p.sink, rec)
}

// Replay paints a history snapshot in order through the same path as remote strokes.
func (p *Pipeline) Replay(recs []protocol.StrokeRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitter.Replay(p.sink, recs)
}

// Reset clears the smoothing window and the committed point. It is called on session reset
// and at calibration start.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter.Reset()
	p.state.Reset()
}

// SetBrush swaps the brush, e.g. after the server's welcome.
func (p *Pipeline) SetBrush(b protocol.BrushConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Brush = b
	p.emitter = NewStrokeEmitter(b)
}

// Emitter returns the current stroke emitter.
func (p *Pipeline) Emitter() *StrokeEmitter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emitter
}
