package http

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"muse/internal/chat"
)

// handleChatWS serves chat turns over a websocket: each inbound JSON message
// starts a turn, and the turn's events are written back as JSON frames with
// the same shapes as the SSE payloads. Turns on one connection run
// sequentially.
func (s *Server) handleChatWS(c *gin.Context) {
	conn, err := s.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	s.metrics.StreamOpened("chat_ws")
	defer s.metrics.StreamClosed("chat_ws")
	s.logger.Debug("Websocket chat connection established")

	ctx := c.Request.Context()
	for {
		var req messageRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Websocket read failed: %v", err)
			}
			return
		}
		if err := req.normalize(); err != nil {
			if writeErr := conn.WriteJSON(gin.H{"type": "error", "error": err.Error()}); writeErr != nil {
				return
			}
			continue
		}

		sink := func(ev chat.Event) error {
			data, err := chat.EncodeEvent(ev)
			if err != nil {
				return err
			}
			s.metrics.IncEvent("chat", ev.EventType())
			return conn.WriteMessage(websocket.TextMessage, data)
		}
		history := []chat.Message{{Role: "user", Content: req.Message}}
		if err := s.chatLoop.Run(ctx, req.SessionID, history, sink); err != nil {
			s.logger.Debug("Websocket turn aborted (session=%s): %v", req.SessionID, err)
			return
		}
	}
}
