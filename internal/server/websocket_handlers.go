package server

import (
	"log/slog"

	"threadboard/internal/models"
	"threadboard/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// requireUpgrade rejects plain HTTP requests on WebSocket routes.
func (s *Server) requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// CommentsWebSocket streams comment_update and comment_delete events to
// every subscriber, anonymous or not. Incoming frames are ignored.
func (s *Server) CommentsWebSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		viewer, _ := conn.Locals(localViewer).(models.Viewer)

		client, err := s.hub.Register(viewer.UserID, conn)
		if err != nil {
			observability.Logger.Warn("comment subscriber rejected",
				slog.Uint64("user_id", uint64(viewer.UserID)),
				slog.String("error", err.Error()),
			)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}
