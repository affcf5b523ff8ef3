package api

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"comic-studio/backend/internal/chat"
	"comic-studio/backend/internal/comic"
	"comic-studio/backend/internal/export"
	"comic-studio/backend/internal/gemini"
	"comic-studio/backend/internal/studio"
	"comic-studio/backend/pkg/errors"
	"comic-studio/backend/pkg/resilience"
)

// statusClientClosedRequest is reported when the caller went away mid-request
const statusClientClosedRequest = 499

// ToAppError maps domain errors onto HTTP errors. Upstream details never
// reach the client; they stay in the cause for logging.
func ToAppError(err error) *errors.AppError {
	var appErr *errors.AppError
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &appErr):
		return appErr
	case stderrors.Is(err, comic.ErrEmptyScript):
		appErr = errors.NewBadRequestError("EMPTY_SCRIPT", comic.EmptyScriptMessage)
	case stderrors.Is(err, comic.ErrScriptTooLong):
		appErr = errors.NewBadRequestError("SCRIPT_TOO_LONG", "The script is too long")
	case stderrors.Is(err, chat.ErrEmptyMessage):
		appErr = errors.NewBadRequestError("EMPTY_MESSAGE", "Message content is required")
	case stderrors.Is(err, studio.ErrGenerationInProgress):
		appErr = errors.NewConflictError("GENERATION_IN_PROGRESS", "A comic is already being generated")
	case stderrors.Is(err, chat.ErrTurnInProgress):
		appErr = errors.NewConflictError("TURN_IN_PROGRESS", "The assistant is still replying")
	case stderrors.Is(err, comic.ErrInvalidPanelData):
		appErr = errors.NewUnprocessableError("INVALID_PANEL_DATA", studio.GenerationFailedMessage)
	case stderrors.Is(err, resilience.ErrCircuitOpen):
		appErr = errors.NewServiceUnavailableError("UPSTREAM_UNAVAILABLE", "The AI service is temporarily unavailable")
	case stderrors.Is(err, gemini.ErrMalformedResponse):
		appErr = errors.NewBadGatewayError("MALFORMED_RESPONSE", studio.GenerationFailedMessage)
	case stderrors.Is(err, gemini.ErrUpstream), stderrors.Is(err, gemini.ErrNoImageProduced):
		appErr = errors.NewBadGatewayError("UPSTREAM_ERROR", studio.GenerationFailedMessage)
	case stderrors.Is(err, studio.ErrSessionNotFound):
		appErr = errors.NewNotFoundError("SESSION_NOT_FOUND", "Session not found")
	case stderrors.Is(err, export.ErrNothingToExport):
		appErr = errors.NewNotFoundError("NOTHING_TO_EXPORT", "No comic panels to download")
	case stderrors.Is(err, context.DeadlineExceeded):
		appErr = errors.NewError(http.StatusGatewayTimeout, "TIMEOUT", "The request timed out")
	case stderrors.Is(err, context.Canceled):
		appErr = errors.NewError(statusClientClosedRequest, "REQUEST_CANCELED", "The request was canceled")
	default:
		return errors.FromError(err)
	}
	return appErr.WithCause(err)
}

// abort records err for the error handler middleware
func abort(c *gin.Context, err error) {
	_ = c.Error(ToAppError(err))
	c.Abort()
}
