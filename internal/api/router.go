package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trip-route-service/internal/api/handlers"
	"trip-route-service/internal/platform/logger"
	"trip-route-service/internal/sessions"
)

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(mgr *sessions.Manager, log *zap.Logger, originPatterns []string) http.Handler {
	log = logger.OrNop(log)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	h := &handlers.SessionHandler{
		Manager:        mgr,
		Logger:         log,
		OriginPatterns: originPatterns,
	}

	r.GET("/health", handlers.Health)

	s := r.Group("/sessions")
	{
		s.POST("", h.Create)
		s.DELETE("/:id", h.Delete)
		s.PUT("/:id/waypoints", h.PutWaypoints)
		s.GET("/:id/route", h.GetRoute)
		s.GET("/:id/ws", h.Stream)
	}

	return r
}
