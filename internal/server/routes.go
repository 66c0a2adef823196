package server

import (
	"github.com/OFFIS-RIT/spans/internal/server/middleware"
	"github.com/OFFIS-RIT/spans/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo, gatherer prometheus.Gatherer) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Span routes
	apiRoutes.POST("/spans/resolve", routes.ResolveSpanHandler, middleware.RequirePermission("span.resolve"))
	apiRoutes.DELETE("/spans/:id", routes.DeleteSpanHandler, middleware.RequirePermission("span.delete"))

	// Connection routes
	apiRoutes.POST("/connections/validate", routes.ValidateConnectionHandler, middleware.RequirePermission("connection.create"))
	apiRoutes.POST("/connections", routes.CreateConnectionHandler, middleware.RequirePermission("connection.create"))

	// Duplicate and merge routes
	apiRoutes.GET("/duplicates", routes.GetDuplicatesHandler, middleware.RequirePermission("span.merge"))
	apiRoutes.POST("/merges", routes.MergeHandler, middleware.RequirePermission("span.merge"))
	apiRoutes.POST("/merges/preview", routes.PreviewMergeHandler, middleware.RequirePermission("span.merge"))

	// Repair routes
	apiRoutes.POST("/repairs", routes.SubmitRepairHandler, middleware.RequirePermission("repair.run"))
	apiRoutes.GET("/repairs/:run_id", routes.GetRepairHandler, middleware.RequirePermission("repair.run"))
}
