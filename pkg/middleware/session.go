package middleware

import (
	"context"
	stderrors "errors"
	"strings"

	"comic-studio/backend/pkg/errors"
	"comic-studio/backend/pkg/jwt"
	"comic-studio/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Key types for context values
type contextKey string

const (
	// SessionIDKey is the key for studio session ids in contexts
	SessionIDKey contextKey = "sessionID"

	sessionIDGinKey = "sessionID"
)

// TokenValidator is satisfied by *jwt.Service
type TokenValidator interface {
	ValidateToken(token string) (*jwt.SessionClaims, error)
}

// SessionAuth requires a valid session token, read from the Authorization
// header or, for WebSocket upgrades, from the token query parameter.
func SessionAuth(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			_ = c.Error(errors.NewUnauthorizedError("SESSION_REQUIRED", "A session token is required"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			code, msg := "INVALID_SESSION_TOKEN", "The session token is invalid"
			if stderrors.Is(err, jwt.ErrExpiredToken) {
				code, msg = "SESSION_TOKEN_EXPIRED", "The session token has expired"
			}
			_ = c.Error(errors.NewUnauthorizedError(code, msg))
			c.Abort()
			return
		}

		c.Set(sessionIDGinKey, claims.SessionID)
		ctx := context.WithValue(c.Request.Context(), SessionIDKey, claims.SessionID)
		reqLogger := logger.FromGin(c).WithSessionID(claims.SessionID)
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(logger.NewContext(ctx, reqLogger))

		c.Next()
	}
}

// SessionID returns the session id set by SessionAuth
func SessionID(c *gin.Context) string {
	return c.GetString(sessionIDGinKey)
}

// GetSessionID extracts the session id from a context
func GetSessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
