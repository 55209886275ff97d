package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/bus-seat-booking/internal/handler"
)

// RegisterRoutes registers routes that need no identity: the health check
// used by load balancers and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, checks map[string]handler.Check) {
	e.GET("/healthz", handler.Health(checks))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
