package pipeline

import (
	"github.com/revealcanvas/backend/internal/protocol"
)

// PaintSink applies a single radial reveal dab to a surface. Opacity is the centre opacity; it
// must decay monotonically to zero at radius.
type PaintSink interface {
	Paint(x, y, radius, opacity float64)
}

// PaintFunc adapts a function to PaintSink.
type PaintFunc func(x, y, radius, opacity float64)

// Paint implements PaintSink.
func (f PaintFunc) Paint(x, y, radius, opacity float64) { f(x, y, radius, opacity) }

// PaintOp is one dab produced by subdividing a stroke.
type PaintOp struct {
	X, Y    float64
	Radius  float64
	Opacity float64
}

// StrokeEmitter expands strokes into paint operations using the shared brush.
type StrokeEmitter struct {
	brush protocol.BrushConfig
}

// NewStrokeEmitter creates an emitter for brush.
func NewStrokeEmitter(brush protocol.BrushConfig) *StrokeEmitter {
	return &StrokeEmitter{brush: brush}
}

// Brush returns the emitter's brush.
func (e *StrokeEmitter) Brush() protocol.BrushConfig { return e.brush }

// Emit subdivides the segment into paint operations and packages its endpoints as the record
// sent over the network.
func (e *StrokeEmitter) Emit(x1, y1, x2, y2 float64) ([]PaintOp, protocol.StrokeRecord) {
	rec := protocol.StrokeRecord{X1: x1, Y1: y1, X2: x2, Y2: y2}
	return e.Ops(rec), rec
}

// Ops returns the paint operations for a record. A degenerate record (both endpoints equal)
// is a single-point reveal and yields exactly one dab.
func (e *StrokeEmitter) Ops(rec protocol.StrokeRecord) []PaintOp {
	if rec.X1 == rec.X2 && rec.Y1 == rec.Y2 {
		return []PaintOp{{X: rec.X1, Y: rec.Y1, Radius: e.brush.Radius, Opacity: e.brush.Opacity}}
	}
	pts := Subdivide(Point{X: rec.X1, Y: rec.Y1}, Point{X: rec.X2, Y: rec.Y2}, e.brush.Step())
	ops := make([]PaintOp, len(pts))
	for i, p := range pts {
		ops[i] = PaintOp{X: p.X, Y: p.Y, Radius: e.brush.Radius, Opacity: e.brush.Opacity}
	}
	return ops
}

// Draw paints a record onto sink. Local strokes, remote strokes and history replay all go
// through this path.
func (e *StrokeEmitter) Draw(sink PaintSink, rec protocol.StrokeRecord) int {
	ops := e.Ops(rec)
	for _, op := range ops {
		sink.Paint(op.X, op.Y, op.Radius, op.Opacity)
	}
	return len(ops)
}

// Replay draws records in order.
func (e *StrokeEmitter) Replay(sink PaintSink, recs []protocol.StrokeRecord) {
	for _, rec := range recs {
		e.Draw(sink, rec)
	}
}

// Dab paints the single-point reveal used for a first commit.
func (e *StrokeEmitter) Dab(sink PaintSink, x, y float64) {
	sink.Paint(x, y, e.brush.Radius, e.brush.Opacity)
}
