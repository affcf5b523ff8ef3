package router

import (
	"os"
	"runtime"
)

// setupHealthRoutes registers health check endpoints
func (r *Router) setupHealthRoutes() {
	handler := r.Container.Health.Handler(os.Getenv("APP_VERSION"), func() map[string]any {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		return map[string]any{
			"sessions":           r.Container.Registry.Count(),
			"active_connections": r.Hub.GetActiveConnections(),
			"memory": map[string]any{
				"alloc_mb":  memStats.Alloc / 1024 / 1024,
				"sys_mb":    memStats.Sys / 1024 / 1024,
				"gc_cycles": memStats.NumGC,
			},
		}
	})

	// Register both health endpoint paths for compatibility
	r.Engine.GET("/health", handler)
	r.Engine.GET("/api/v1/health", handler)
}
