package api

import (
	"context"
	"net/http"
	"time"

	"comic-studio/backend/internal/studio"
	"comic-studio/backend/pkg/errors"
	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Sessions is the part of the session registry the handlers use
type Sessions interface {
	Create() *studio.Session
	Open(ctx context.Context, id string) (*studio.Session, error)
}

// TokenIssuer signs session tokens
type TokenIssuer interface {
	GenerateToken(sessionID string) (string, time.Time, error)
}

// AuthHandler hands out studio sessions and their tokens
type AuthHandler struct {
	sessions Sessions
	tokens   TokenIssuer
	logger   *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(sessions Sessions, tokens TokenIssuer, logger *logger.Logger) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
	}
}

// SessionResponse is returned when a session is created
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterRoutes registers the public session routes
func (h *AuthHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/sessions", h.CreateSession)
}

// CreateSession starts an empty studio session
func (h *AuthHandler) CreateSession(c *gin.Context) {
	sess := h.sessions.Create()

	token, expiresAt, err := h.tokens.GenerateToken(sess.ID())
	if err != nil {
		h.logger.LogError(err, "Error signing session token", "session_id", sess.ID())
		_ = c.Error(errors.NewInternalServerError("TOKEN_ERROR", "Failed to create session"))
		return
	}

	c.JSON(http.StatusCreated, SessionResponse{
		SessionID: sess.ID(),
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// session resolves the studio session bound to the request's token
func session(c *gin.Context, sessions Sessions) (*studio.Session, bool) {
	id := middleware.SessionID(c)
	if id == "" {
		_ = c.Error(errors.NewUnauthorizedError("SESSION_REQUIRED", "A session token is required"))
		c.Abort()
		return nil, false
	}

	sess, err := sessions.Open(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return nil, false
	}
	return sess, true
}
