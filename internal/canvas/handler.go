// Package canvas serves read-only views of canvas sessions over HTTP: the shared brush and
// pipeline parameters, the stroke history, and the reveal surface rendered from that history.
package canvas

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/pipeline"
	"github.com/revealcanvas/backend/internal/protocol"
	"github.com/revealcanvas/backend/internal/realtime"
	"github.com/revealcanvas/backend/internal/surface"
	"github.com/revealcanvas/backend/pkg/response"
	"github.com/revealcanvas/backend/pkg/storage"
)

// Exporter uploads a rendered snapshot.
type Exporter interface {
	ExportSnapshot(ctx context.Context, sessionID string, at time.Time, png []byte) (*storage.Export, error)
}

// ClientConfig is what GET /config returns: everything a client needs to paint identically.
type ClientConfig struct {
	Brush    protocol.BrushConfig `json:"brush"`
	Canvas   SurfaceInfo          `json:"canvas"`
	Pipeline PipelineInfo         `json:"pipeline"`
}

// SurfaceInfo describes the surface geometry.
type SurfaceInfo struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Layers      int    `json:"layers"`
	MaskColor   string `json:"maskColor"`
	RevealColor string `json:"revealColor"`
}

// PipelineInfo describes the client input pipeline parameters.
type PipelineInfo struct {
	SmoothingFrames   int     `json:"smoothingFrames"`
	MovementThreshold float64 `json:"movementThreshold"`
	TickIntervalMs    int64   `json:"tickIntervalMs"`
	CursorIntervalMs  int64   `json:"cursorIntervalMs"`
}

// Handler handles the canvas HTTP routes.
type Handler struct {
	hub      *realtime.Hub
	surface  surface.Config
	pipeline pipeline.Config
	exporter Exporter
	clock    clockwork.Clock
	logger   *zap.Logger
}

// NewHandler creates a canvas handler. exporter may be nil, which disables export.
func NewHandler(hub *realtime.Hub, sc surface.Config, pc pipeline.Config, exporter Exporter, clock clockwork.Clock, logger *zap.Logger) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{hub: hub, surface: sc, pipeline: pc, exporter: exporter, clock: clock, logger: logger}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/config", h.GetConfig)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id/history", h.GetHistory)
	r.GET("/sessions/:id/surface.png", h.GetSurface)
	r.POST("/sessions/:id/export", h.Export)
}

// GetConfig handles GET /config.
func (h *Handler) GetConfig(c *gin.Context) {
	brush := h.hub.Config().Brush
	response.OK(c, ClientConfig{
		Brush: brush,
		Canvas: SurfaceInfo{
			Width:       h.surface.Width,
			Height:      h.surface.Height,
			Layers:      h.surface.Layers,
			MaskColor:   h.surface.MaskColor,
			RevealColor: h.surface.RevealColor,
		},
		Pipeline: PipelineInfo{
			SmoothingFrames:   h.pipeline.SmoothingFrames,
			MovementThreshold: h.pipeline.MovementThreshold,
			TickIntervalMs:    h.pipeline.TickInterval.Milliseconds(),
			CursorIntervalMs:  h.pipeline.CursorInterval.Milliseconds(),
		},
	})
}

// SessionSummary is one entry of GET /sessions.
type SessionSummary struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
	Strokes      int    `json:"strokes"`
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(c *gin.Context) {
	ids := h.hub.SessionIDs()
	out := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		s, ok := h.hub.Lookup(id)
		if !ok {
			continue
		}
		out = append(out, SessionSummary{ID: id, Participants: len(s.Participants()), Strokes: len(s.History())})
	}
	response.OK(c, gin.H{"sessions": out})
}

// GetHistory handles GET /sessions/:id/history.
func (h *Handler) GetHistory(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	history := s.History()
	response.OK(c, gin.H{
		"history":      history,
		"strokes":      len(history),
		"participants": s.Participants(),
	})
}

// GetSurface handles GET /sessions/:id/surface.png.
func (h *Handler) GetSurface(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	png, err := h.render(s)
	if err != nil {
		h.logger.Error("render surface", zap.String("session_id", s.ID), zap.Error(err))
		response.Internal(c, "failed to render surface")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, storage.ContentTypePNG, png)
}

// Export handles POST /sessions/:id/export.
func (h *Handler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.ServiceUnavailable(c, "export is not configured")
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	png, err := h.render(s)
	if err != nil {
		h.logger.Error("render surface", zap.String("session_id", s.ID), zap.Error(err))
		response.Internal(c, "failed to render surface")
		return
	}
	export, err := h.exporter.ExportSnapshot(c.Request.Context(), s.ID, h.clock.Now(), png)
	if err != nil {
		h.logger.Error("export surface", zap.String("session_id", s.ID), zap.Error(err))
		response.Internal(c, "failed to export surface")
		return
	}
	response.Created(c, export)
}

func (h *Handler) session(c *gin.Context) (*realtime.Session, bool) {
	id := c.Param("id")
	if !realtime.ValidSessionID(id) {
		response.BadRequest(c, "invalid session id")
		return nil, false
	}
	s, ok := h.hub.Lookup(id)
	if !ok {
		response.NotFound(c, "session not found")
		return nil, false
	}
	return s, true
}

// render replays the session history onto a fresh surface. A reset clears the history, so
// the result matches what every connected participant sees.
func (h *Handler) render(s *realtime.Session) ([]byte, error) {
	surf, err := surface.New(h.surface)
	if err != nil {
		return nil, err
	}
	pipeline.NewStrokeEmitter(h.hub.Config().Brush).Replay(surf, s.History())
	if err := surf.Err(); err != nil {
		return nil, fmt.Errorf("rasterize history: %w", err)
	}
	var buf bytes.Buffer
	if err := surf.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
