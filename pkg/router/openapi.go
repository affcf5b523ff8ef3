package router

import (
	"github.com/gin-gonic/gin"

	"comic-studio/backend/docs"
	"comic-studio/backend/pkg/validator"
)

// setupDocsRoutes serves the embedded OpenAPI document
func (r *Router) setupDocsRoutes() {
	r.Engine.GET("/api/docs/"+docs.OpenAPIFile, func(c *gin.Context) {
		c.Data(200, "application/yaml", docs.OpenAPI)
	})
}

// addOpenAPIValidation validates requests on group against the embedded document
func (r *Router) addOpenAPIValidation(group *gin.RouterGroup) {
	v, err := validator.NewOpenAPIValidator(docs.OpenAPI)
	if err != nil {
		r.Logger.LogError(err, "Failed to initialize OpenAPI validator, skipping validation")
		return
	}

	group.Use(v.Middleware())
	r.Logger.Info("OpenAPI validation enabled", "schema", "/api/docs/"+docs.OpenAPIFile)
}
