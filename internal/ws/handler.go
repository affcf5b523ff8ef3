package ws

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"comic-studio/backend/internal/api"
	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/middleware"
)

// NewUpgrader accepts any origin when allowed contains "*"
func NewUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
		},
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

// ServeWs upgrades an authenticated request and attaches the connection to
// the caller's studio session.
func ServeWs(hub *Hub, upgrader *websocket.Upgrader, c *gin.Context) {
	sessionID := middleware.SessionID(c)
	sess, err := hub.sessions.Open(c.Request.Context(), sessionID)
	if err != nil {
		_ = c.Error(api.ToAppError(err))
		c.Abort()
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromGin(c).Warn("Error upgrading connection", "error", err.Error())
		return
	}

	conn.EnableWriteCompression(true)

	client := newClient(uuid.NewString(), conn, hub, sess)
	if !hub.add(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	client.log.Info("New WebSocket connection established")

	go client.WritePump()
	go client.forward()
	go client.ReadPump()
}
