package protocol

import (
	"errors"
	"fmt"
)

// Defaults agreed by every participant of a session.
const (
	DefaultBrushRadius       = 20.0
	DefaultBrushOpacity      = 1.0
	DefaultSubdivisionFactor = 0.3
)

// BrushConfig is the shared brush geometry. Every recipient must subdivide remote strokes with
// the same values, so the server sends it in the welcome message.
type BrushConfig struct {
	Radius            float64 `json:"radius"`
	Opacity           float64 `json:"opacity"`
	SubdivisionFactor float64 `json:"subdivisionFactor"`
}

// DefaultBrush returns the canonical brush.
func DefaultBrush() BrushConfig {
	return BrushConfig{
		Radius:            DefaultBrushRadius,
		Opacity:           DefaultBrushOpacity,
		SubdivisionFactor: DefaultSubdivisionFactor,
	}
}

// Step is the spatial distance between two consecutive paint operations.
func (b BrushConfig) Step() float64 {
	return b.Radius * b.SubdivisionFactor
}

// Validate reports whether the brush can subdivide a segment.
func (b BrushConfig) Validate() error {
	if !finite(b.Radius, b.Opacity, b.SubdivisionFactor) {
		return errors.New("brush: non-finite value")
	}
	if b.Radius <= 0 {
		return fmt.Errorf("brush: radius must be positive, got %v", b.Radius)
	}
	if b.SubdivisionFactor <= 0 {
		return fmt.Errorf("brush: subdivision factor must be positive, got %v", b.SubdivisionFactor)
	}
	if b.Opacity < 0 || b.Opacity > 1 {
		return fmt.Errorf("brush: opacity must be in [0,1], got %v", b.Opacity)
	}
	return nil
}
