package sessionlog

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/revealcanvas/backend/internal/realtime"
	"github.com/revealcanvas/backend/pkg/response"
)

// Reader is the query side of the repository.
type Reader interface {
	ListBySession(ctx context.Context, sessionID string) ([]AttendeeRow, error)
	ListResets(ctx context.Context, sessionID string) ([]ResetRow, error)
}

// Handler handles GET /sessions/:id/attendees.
type Handler struct {
	repo Reader
}

// NewHandler creates a session log handler.
func NewHandler(repo Reader) *Handler {
	return &Handler{repo: repo}
}

// GetAttendees handles GET /sessions/:id/attendees (participants with join and leave times, and resets).
func (h *Handler) GetAttendees(c *gin.Context) {
	sessionID := c.Param("id")
	if !realtime.ValidSessionID(sessionID) {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to list attendees")
		return
	}
	resets, err := h.repo.ListResets(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to list resets")
		return
	}
	response.OK(c, gin.H{"attendees": list, "resets": resets})
}
