package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"comic-studio/backend/internal/api"
	"comic-studio/backend/internal/models"
	"comic-studio/backend/internal/studio"
	"comic-studio/backend/pkg/logger"
	pkgws "comic-studio/backend/pkg/ws"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer  = 256
	eventBuffer = 64
)

// SnapshotContent is sent once after connecting
type SnapshotContent struct {
	Messages []models.ChatMessage `json:"messages"`
	Comic    studio.ComicState    `json:"comic"`
}

// Client is one WebSocket connection bound to a studio session
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	session *studio.Session
	log     *logger.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, hub *Hub, sess *studio.Session) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:      id,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		Hub:     hub,
		session: sess,
		log:     hub.log.With("client_id", id, "session_id", sess.ID()),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// close stops the pumps and cancels work started by this client
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.remove(c)
		c.close()
		c.Conn.Close()
		c.log.Debug("ReadPump ended")
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket read failed", "error", err.Error())
			}
			return
		}

		var message pkgws.Message
		if err := json.Unmarshal(data, &message); err != nil {
			c.sendError("INVALID_MESSAGE", "Message is not valid JSON")
			continue
		}

		go c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message pkgws.Message) {
	switch message.Type {
	case pkgws.TypeScript:
		var content pkgws.ScriptContent
		if err := json.Unmarshal(message.Content, &content); err != nil {
			c.sendError("INVALID_MESSAGE", "Script content is malformed")
			return
		}
		// results arrive as comic_state and panel_image events
		if _, err := c.session.SubmitScript(c.ctx, content.Script); err != nil {
			c.sendAppError(err)
		}

	case pkgws.TypeChat:
		var content pkgws.ChatContent
		if err := json.Unmarshal(message.Content, &content); err != nil {
			c.sendError("INVALID_MESSAGE", "Chat content is malformed")
			return
		}
		if _, err := c.session.SendChat(c.ctx, content.Content, nil); err != nil {
			c.sendAppError(err)
		}

	case pkgws.TypeCancel:
		c.session.CancelChat()

	case pkgws.TypePing:
		c.sendMessage(pkgws.TypePong, nil)

	default:
		c.sendError("UNKNOWN_MESSAGE_TYPE", "Unknown message type: "+message.Type)
	}
}

// forward relays session events until the client or the subscription ends
func (c *Client) forward() {
	events, unsubscribe := c.session.Subscribe(eventBuffer)
	defer unsubscribe()

	c.sendMessage(pkgws.TypeSnapshot, SnapshotContent{
		Messages: c.session.Messages(),
		Comic:    c.session.Comic(),
	})

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// dropped as a slow subscriber or the session closed
				c.close()
				return
			}
			c.sendMessage(string(ev.Type), ev.Data)
		case <-c.done:
			return
		}
	}
}

func (c *Client) sendMessage(messageType string, content any) {
	data, err := pkgws.NewMessage(messageType, content)
	if err != nil {
		c.log.LogError(err, "Error marshaling message", "type", messageType)
		return
	}

	select {
	case c.Send <- data:
	case <-c.done:
	default:
		c.log.Warn("Send buffer full, dropping message", "type", messageType)
	}
}

func (c *Client) sendError(code, message string) {
	c.sendMessage(pkgws.TypeError, pkgws.ErrorContent{Code: code, Message: message})
}

func (c *Client) sendAppError(err error) {
	appErr := api.ToAppError(err)
	if appErr.StatusCode >= 500 {
		c.log.LogError(err, "WebSocket request failed")
	}
	c.sendError(appErr.Code, appErr.Message)
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain queued messages in the same write window
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
