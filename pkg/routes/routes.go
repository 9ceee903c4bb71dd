package routes

import (
	"github.com/labstack/echo/v5"

	"streamtally/pkg/handlers"
)

// Setup registers the query and ingest HTTP surface.
func Setup(e *echo.Echo, h *handlers.Handler) {
	e.GET("/health", func(c *echo.Context) error { return h.HealthCheck(c) })
	e.GET("/ready", func(c *echo.Context) error { return h.ReadinessCheck(c) })

	api := e.Group("/api")
	api.POST("/ingest", func(c *echo.Context) error { return h.Ingest(c) })
	api.GET("/topk", func(c *echo.Context) error { return h.TopK(c) })
	api.GET("/history", func(c *echo.Context) error { return h.History(c) })
	api.GET("/range", func(c *echo.Context) error { return h.Range(c) })
	api.GET("/trending", func(c *echo.Context) error { return h.Trending(c) })
	api.GET("/debug", func(c *echo.Context) error { return h.Debug(c) })

	admin := api.Group("/admin")
	admin.GET("/metrics", func(c *echo.Context) error { return h.GetMetrics(c) })
}
