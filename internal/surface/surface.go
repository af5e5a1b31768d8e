// Package surface is the raster reveal surface: a mask over a background that radial brush dabs
// progressively uncover.
package surface

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // background decoders
	"image/png"
	"io"
	"os"
	"sync"

	"github.com/gogpu/gg"
)

// Layer modes.
const (
	// LayersSolid reveals a solid background colour.
	LayersSolid = 1
	// LayersImage reveals a background image.
	LayersImage = 2
)

// Config describes the surface geometry and colours.
type Config struct {
	Width, Height int
	Layers        int
	MaskColor     string
	RevealColor   string
	// BackgroundPath is the image revealed when Layers is LayersImage.
	BackgroundPath string
}

// DefaultConfig mirrors the single-colour reveal canvas.
func DefaultConfig() Config {
	return Config{
		Width:       800,
		Height:      600,
		Layers:      LayersSolid,
		MaskColor:   "#CC2ABE",
		RevealColor: "#0066FF",
	}
}

// Surface accumulates reveal coverage. Each dab is painted source-over onto a transparent
// coverage layer, which is equivalent to erasing the mask with destination-out: the remaining
// mask alpha after a dab of alpha a is (1-coverage)(1-a) either way.
type Surface struct {
	mu         sync.Mutex
	cfg        Config
	coverage   *gg.Context
	mask       gg.RGBA
	background image.Image
	dabs       int
	lastErr    error
}

// New creates a surface. For LayersImage the background image is loaded from BackgroundPath.
func New(cfg Config) (*Surface, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("surface: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	s := &Surface{
		cfg:      cfg,
		coverage: gg.NewContext(cfg.Width, cfg.Height),
		mask:     gg.Hex(cfg.MaskColor),
	}
	switch cfg.Layers {
	case LayersSolid, 0:
		s.background = image.NewUniform(gg.Hex(cfg.RevealColor).Color())
	case LayersImage:
		bg, err := loadImage(cfg.BackgroundPath)
		if err != nil {
			return nil, err
		}
		s.background = bg
	default:
		return nil, fmt.Errorf("surface: unsupported layer count %d", cfg.Layers)
	}
	s.coverage.Clear()
	return s, nil
}

func loadImage(path string) (image.Image, error) {
	if path == "" {
		return nil, errors.New("surface: background image path required for image layers")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open background: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode background: %w", err)
	}
	return img, nil
}

// Paint applies one radial dab: full opacity at the centre, 60% at half radius, zero at radius.
func (s *Surface) Paint(x, y, radius, opacity float64) {
	if radius <= 0 || opacity <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	brush := gg.NewRadialGradientBrush(x, y, 0, radius).
		AddColorStop(0, gg.RGBA2(1, 1, 1, opacity)).
		AddColorStop(0.5, gg.RGBA2(1, 1, 1, opacity*0.6)).
		AddColorStop(1, gg.RGBA2(1, 1, 1, 0))
	s.coverage.SetFillBrush(brush)
	s.coverage.DrawCircle(x, y, radius)
	if err := s.coverage.Fill(); err != nil {
		s.lastErr = err
		return
	}
	s.dabs++
}

// Reset restores the full mask.
func (s *Surface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coverage.Clear()
	s.dabs = 0
	s.lastErr = nil
}

// Dabs returns the number of dabs painted since the last reset.
func (s *Surface) Dabs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dabs
}

// Err returns the last rasterization error, if any.
func (s *Surface) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Coverage returns the reveal coverage in [0,1] at a pixel.
func (s *Surface) Coverage(x, y int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.coverage.FlushGPU()
	_, _, _, a := s.coverage.Image().At(x, y).RGBA()
	return float64(a) / 0xffff
}

// Render composes the mask over the background using the accumulated coverage.
func (s *Surface) Render() *image.RGBA {
	s.mu.Lock()
	_ = s.coverage.FlushGPU()
	cov := s.coverage.Image()
	s.mu.Unlock()

	w, h := s.cfg.Width, s.cfg.Height
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	bgb := s.background.Bounds()
	mask := s.mask
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			_, _, _, ca := cov.At(x, y).RGBA()
			t := float64(ca) / 0xffff
			bg := gg.FromColor(s.background.At(bgb.Min.X+x%max(bgb.Dx(), 1), bgb.Min.Y+y%max(bgb.Dy(), 1)))
			c := mask.Lerp(bg, t)
			out.SetRGBA(x, y, color.RGBA{
				R: uint8(c.R*255 + 0.5),
				G: uint8(c.G*255 + 0.5),
				B: uint8(c.B*255 + 0.5),
				A: 255,
			})
		}
	}
	return out
}

// EncodePNG writes the rendered surface as PNG.
func (s *Surface) EncodePNG(w io.Writer) error {
	return png.Encode(w, s.Render())
}

// Width returns the surface width in pixels.
func (s *Surface) Width() int { return s.cfg.Width }

// Height returns the surface height in pixels.
func (s *Surface) Height() int { return s.cfg.Height }
