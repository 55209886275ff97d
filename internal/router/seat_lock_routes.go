package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-booking/internal/handler"
	"github.com/iliyamo/bus-seat-booking/internal/middleware"
)

// RegisterSeatLocks registers the seat lock endpoints under
// /v1/trips/:tripId/locks.  Identity is optional: a bearer token makes the
// caller a user, otherwise the session id alone identifies a guest.
// Acquiring and extending locks pass through limit, the Redis token
// bucket, so one client cannot sweep a whole coach.
func RegisterSeatLocks(e *echo.Echo, h *handler.SeatLockHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/trips/:tripId/locks", middleware.OptionalJWT(jwtSecret))
	g.GET("", h.List)
	g.POST("", h.Lock, limit)
	g.GET("/mine", h.Mine)
	g.DELETE("/mine", h.ReleaseMine)
	g.POST("/extend", h.Extend, limit)
	g.POST("/release", h.Release)
}
