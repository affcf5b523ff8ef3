package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"comic-studio/backend/internal/gemini"
	"comic-studio/backend/internal/images"
	"comic-studio/backend/internal/models"
	"comic-studio/backend/pkg/errors"
	"comic-studio/backend/pkg/logger"
)

const defaultHistoryLimit = 20

// ComicHandler serves comic generation, panel images and exports
type ComicHandler struct {
	sessions Sessions
	logger   *logger.Logger
}

// NewComicHandler creates a new comic handler
func NewComicHandler(sessions Sessions, logger *logger.Logger) *ComicHandler {
	return &ComicHandler{sessions: sessions, logger: logger}
}

// CreateComicRequest is the body of POST /comics
type CreateComicRequest struct {
	Script string `json:"script"`
}

// CreateComicResponse describes a freshly generated comic
type CreateComicResponse struct {
	Generation int                  `json:"generation"`
	Panels     models.PanelSequence `json:"panels"`
}

// RegisterRoutes registers the comic routes on a session-protected group
func (h *ComicHandler) RegisterRoutes(group *gin.RouterGroup) {
	comics := group.Group("/comics")
	{
		comics.POST("", h.CreateComic)
		comics.GET("/current", h.CurrentComic)
		comics.GET("/current/export", h.ExportComic)
		comics.GET("/history", h.History)
	}
	group.GET("/panels/:panel/image", h.PanelImage)
}

// CreateComic turns a script into panels. Images load in the background.
func (h *ComicHandler) CreateComic(c *gin.Context) {
	var req CreateComicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewBadRequestError("INVALID_REQUEST", "Invalid request format"))
		return
	}

	sess, ok := session(c, h.sessions)
	if !ok {
		return
	}

	state, err := sess.SubmitScript(c.Request.Context(), req.Script)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, CreateComicResponse{
		Generation: state.Generation,
		Panels:     state.Panels,
	})
}

// CurrentComic returns the comic state including per-panel image status
func (h *ComicHandler) CurrentComic(c *gin.Context) {
	sess, ok := session(c, h.sessions)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Comic())
}

// ExportComic downloads the ready panel images and a manifest as a ZIP
func (h *ComicHandler) ExportComic(c *gin.Context) {
	sess, ok := session(c, h.sessions)
	if !ok {
		return
	}

	file, err := sess.Export(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	c.Data(http.StatusOK, "application/zip", file.Data)
}

// History lists the session's archived comics, newest first
func (h *ComicHandler) History(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 1 {
		limit = defaultHistoryLimit
	}

	sess, ok := session(c, h.sessions)
	if !ok {
		return
	}

	records, err := sess.History(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).LogError(err, "Error listing comic history")
		_ = c.Error(errors.NewInternalServerError("HISTORY_ERROR", "Failed to load comic history"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"comics": records,
		"count":  len(records),
	})
}

// PanelImage returns the raw image of one panel once it is ready
func (h *ComicHandler) PanelImage(c *gin.Context) {
	panel, err := strconv.Atoi(c.Param("panel"))
	if err != nil || panel < 1 {
		_ = c.Error(errors.NewBadRequestError("INVALID_PANEL", "Panel must be a positive number"))
		return
	}

	sess, ok := session(c, h.sessions)
	if !ok {
		return
	}

	img, found := sess.Comic().Image(panel)
	if !found {
		_ = c.Error(errors.NewNotFoundError("PANEL_NOT_FOUND", "Panel not found"))
		return
	}

	switch img.Status {
	case images.StatusFailed:
		_ = c.Error(errors.NewGoneError("IMAGE_FAILED", images.FailureMessage))
	case images.StatusReady:
		mime, data, err := gemini.DecodeDataURI(img.ImageURL)
		if err != nil {
			logger.FromGin(c).LogError(err, "Stored panel image is unreadable", "panel", panel)
			_ = c.Error(errors.NewGoneError("IMAGE_FAILED", images.FailureMessage))
			return
		}
		c.Header("Cache-Control", "private, max-age=3600")
		c.Data(http.StatusOK, mime, data)
	default:
		c.JSON(http.StatusAccepted, img)
	}
}
