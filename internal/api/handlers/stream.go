package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trip-route-service/internal/api/dto"
	"trip-route-service/internal/sessions"
)

const (
	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 5 * time.Second
)

// Stream handles GET /sessions/:id/ws. Outcomes are pushed as they settle,
// starting with the latest one; clients may send waypoint snapshots on the
// same connection.
func (h *SessionHandler) Stream(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		h.Logger.Warn("websocket accept failed", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	outcomes, unsubscribe := s.Subscribe(8)
	defer unsubscribe()

	replies := make(chan dto.StreamMessage, 4)
	go func() {
		defer cancel()
		h.readLoop(ctx, conn, s, replies)
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		var msg dto.StreamMessage

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case o, ok := <-outcomes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			msg = dto.StreamMessage{Type: "outcome", RouteResponse: dto.FromOutcome(o)}
		case msg = <-replies:
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
			continue
		}

		wctx, wcancel := context.WithTimeout(ctx, streamWriteTimeout)
		err := wsjson.Write(wctx, conn, msg)
		wcancel()
		if err != nil {
			h.Logger.Debug("websocket write failed", zap.String("session_id", s.ID), zap.Error(err))
			return
		}
	}
}

func (h *SessionHandler) readLoop(ctx context.Context, conn *websocket.Conn, s *sessions.Session, replies chan<- dto.StreamMessage) {
	reply := func(m dto.StreamMessage) bool {
		select {
		case replies <- m:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if mt != websocket.MessageText {
			continue
		}

		var m dto.ClientMessage
		if err := json.Unmarshal(data, &m); err != nil {
			if !reply(errorMessage("invalid json message")) {
				return
			}
			continue
		}
		if m.Type != "waypoints" {
			if !reply(errorMessage("unknown message type")) {
				return
			}
			continue
		}

		accepted, err := applyWaypoints(ctx, s, m.WaypointsRequest)
		var out dto.StreamMessage
		switch {
		case err == nil:
			out = dto.StreamMessage{Type: "accepted", Accepted: &accepted}
		case errors.As(err, new(invalidWaypointsError)):
			out = errorMessage(err.Error())
		default:
			return
		}
		if !reply(out) {
			return
		}
	}
}

func errorMessage(msg string) dto.StreamMessage {
	return dto.StreamMessage{Type: "error", RouteResponse: dto.RouteResponse{Error: msg}}
}
