package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Report is the body of the health endpoints
type Report struct {
	Status     string                `json:"status"`
	Timestamp  time.Time             `json:"timestamp"`
	Version    string                `json:"version,omitempty"`
	Components map[string]*Component `json:"components"`
	Extra      map[string]any        `json:"extra,omitempty"`
}

// Handler serves the current report; 503 when a critical component is down.
// extra, if set, adds live figures such as session counts.
func (c *Checker) Handler(version string, extra func() map[string]any) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		report := Report{
			Status:     "ok",
			Timestamp:  time.Now(),
			Version:    version,
			Components: c.GetStatus(),
		}
		if extra != nil {
			report.Extra = extra()
		}

		code := http.StatusOK
		if !c.IsSystemHealthy() {
			report.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, report)
	}
}
