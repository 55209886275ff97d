package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-booking/internal/handler"
	"github.com/iliyamo/bus-seat-booking/internal/middleware"
)

// RegisterBookings registers the booking endpoints and the trip seat map.
// Ownership of a booking is checked inside the handler.  Recording a
// manual payment and completing a trip require the OPERATOR role; customers
// pay through the gateway webhook.
func RegisterBookings(e *echo.Echo, h *handler.BookingHandler, jwtSecret string) {
	g := e.Group("/v1", middleware.OptionalJWT(jwtSecret))
	g.GET("/trips/:tripId/seats", h.SeatMap)

	g.POST("/bookings", h.Create)
	g.GET("/bookings/:id", h.Get)
	g.GET("/bookings/reference/:reference", h.GetByReference)
	g.POST("/bookings/:id/payment", h.ConfirmPayment, middleware.RequireRole(middleware.RoleOperator))
	g.POST("/bookings/:id/cancel", h.Cancel)
	g.POST("/bookings/:id/complete", h.Complete, middleware.RequireRole(middleware.RoleOperator))
	g.PATCH("/bookings/:id/passengers/:ticketId", h.UpdatePassenger)
	g.PUT("/bookings/:id/passengers/:ticketId/seat", h.ChangeSeat)
}

// RegisterWebhooks registers the payment gateway callback.  It carries no
// JWT; the HMAC signature is the only credential.
func RegisterWebhooks(e *echo.Echo, h *handler.WebhookHandler) {
	e.POST("/v1/webhooks/payos", h.PayOS)
}
