package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"comic-studio/backend/internal/models"
	"comic-studio/backend/pkg/errors"
	"comic-studio/backend/pkg/logger"
)

// SSE event names of a streamed chat turn
const (
	eventMessage  = "message"
	eventChunk    = "chunk"
	eventDone     = "done"
	eventError    = "error"
	eventCanceled = "canceled"
)

// MessageHandler serves the chat conversation
type MessageHandler struct {
	sessions Sessions
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(sessions Sessions, logger *logger.Logger) *MessageHandler {
	return &MessageHandler{sessions: sessions, logger: logger}
}

// SendMessageRequest is the body of POST /chat/messages
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ChunkEvent carries newly streamed text of an assistant message
type ChunkEvent struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// RegisterRoutes registers the chat routes on a session-protected group
func (h *MessageHandler) RegisterRoutes(group *gin.RouterGroup) {
	chat := group.Group("/chat")
	{
		chat.GET("/messages", h.GetMessages)
		chat.POST("/messages", h.SendMessage)
		chat.POST("/cancel", h.Cancel)
	}
}

// GetMessages returns the conversation log
func (h *MessageHandler) GetMessages(c *gin.Context) {
	sess, ok := session(c, h.sessions)
	if !ok {
		return
	}

	messages := sess.Messages()
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID(),
		"messages":   messages,
		"count":      len(messages),
	})
}

// SendMessage starts a chat turn and streams the reply as server-sent
// events: the user message, text chunks, then one of done, error or canceled.
// Closing the connection cancels the turn through the request context.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewBadRequestError("INVALID_REQUEST", "Invalid request format"))
		return
	}

	sess, ok := session(c, h.sessions)
	if !ok {
		return
	}

	updates := make(chan models.ChatMessage, 64)
	turn, err := sess.SendChat(c.Request.Context(), req.Content, func(m models.ChatMessage) {
		select {
		case updates <- m:
		default:
			// later updates carry the full content
		}
	})
	if err != nil {
		abort(c, err)
		return
	}

	log := logger.FromGin(c).With("message_id", turn.AssistantID)
	log.Debug("chat turn started")

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(eventMessage, turn.User)
	c.Writer.Flush()

	sent := 0
	emit := func(m models.ChatMessage) {
		if len(m.Content) > sent {
			c.SSEvent(eventChunk, ChunkEvent{ID: m.ID, Text: m.Content[sent:]})
			sent = len(m.Content)
		}
	}

	for {
		select {
		case m := <-updates:
			if m.Status == models.MessageStreaming {
				emit(m)
				c.Writer.Flush()
			}
		case <-turn.Done():
			final := turn.Wait()
			switch final.Status {
			case models.MessageComplete:
				emit(final)
				c.SSEvent(eventDone, final)
			case models.MessageCanceled:
				emit(final)
				c.SSEvent(eventCanceled, final)
			default:
				c.SSEvent(eventError, final)
			}
			c.Writer.Flush()
			log.Debug("chat turn finished", "status", string(final.Status))
			return
		}
	}
}

// Cancel stops the chat turn in progress
func (h *MessageHandler) Cancel(c *gin.Context) {
	sess, ok := session(c, h.sessions)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"canceled": sess.CancelChat()})
}
