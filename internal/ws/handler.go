package ws

import (
	"log/slog"
	"net/http"

	websocket "github.com/coder/websocket"

	"github.com/hopelink/hopelink/internal/middleware"
)

// Handle returns an HTTP handler that upgrades connections to WebSocket
// and runs them as hub clients scoped to the requesting user.
func Handle(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept failed", "error", err)
			return
		}

		client := NewClient(hub, conn, userID)
		client.Run(r.Context())
	}
}
