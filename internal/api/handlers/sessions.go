package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trip-route-service/internal/api/dto"
	"trip-route-service/internal/domain"
	"trip-route-service/internal/services"
	"trip-route-service/internal/sessions"
)

type SessionHandler struct {
	Manager *sessions.Manager
	Logger  *zap.Logger

	// OriginPatterns is passed to websocket.Accept; empty means same origin only.
	OriginPatterns []string
}

func (h *SessionHandler) session(c *gin.Context) (*sessions.Session, bool) {
	s, err := h.Manager.Get(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

// Create handles POST /sessions.
func (h *SessionHandler) Create(c *gin.Context) {
	s, err := h.Manager.Create()
	if err != nil {
		h.Logger.Error("create session failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusCreated, dto.SessionResponse{SessionID: s.ID})
}

// Delete handles DELETE /sessions/:id.
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.Manager.Delete(c.Param("id")); err != nil {
		writeError(c, http.StatusNotFound, "session not found")
		return
	}
	c.Status(http.StatusNoContent)
}

// PutWaypoints handles PUT /sessions/:id/waypoints. The body replaces the
// whole waypoint set; the route follows asynchronously.
func (h *SessionHandler) PutWaypoints(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req dto.WaypointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}

	accepted, err := applyWaypoints(c.Request.Context(), s, req)
	if err != nil {
		var invalid invalidWaypointsError
		switch {
		case errors.As(err, &invalid):
			writeError(c, http.StatusBadRequest, invalid.Error())
		case errors.Is(err, services.ErrSchedulerClosed):
			writeError(c, http.StatusNotFound, "session not found")
		default:
			h.Logger.Error("apply waypoints failed", zap.String("session_id", s.ID), zap.Error(err))
			writeError(c, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	c.JSON(http.StatusAccepted, accepted)
}

// GetRoute handles GET /sessions/:id/route.
func (h *SessionHandler) GetRoute(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	snap, err := s.State(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusNotFound, "session not found")
		return
	}

	latest, ok := s.Latest()
	if !ok || snap.State == services.StateDebouncing || snap.State == services.StateInFlight {
		c.JSON(http.StatusOK, dto.Pending(snap))
		return
	}

	res := dto.FromOutcome(latest)
	res.State = snap.State.String()
	c.JSON(http.StatusOK, res)
}

type invalidWaypointsError struct{ err error }

func (e invalidWaypointsError) Error() string { return e.err.Error() }
func (e invalidWaypointsError) Unwrap() error { return e.err }

func applyWaypoints(ctx context.Context, s *sessions.Session, req dto.WaypointsRequest) (dto.WaypointsAccepted, error) {
	set := req.ToDomain()
	if err := set.Validate(); err != nil {
		return dto.WaypointsAccepted{}, invalidWaypointsError{err: err}
	}

	if err := s.Apply(ctx, set); err != nil {
		return dto.WaypointsAccepted{}, err
	}

	key, routable := domain.NewRouteKey(set)
	return dto.WaypointsAccepted{RouteKey: key.String(), Routable: routable}, nil
}
