package handler

import (
    "context"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/bus-seat-booking/internal/middleware"
    "github.com/iliyamo/bus-seat-booking/internal/model"
    "github.com/iliyamo/bus-seat-booking/internal/service"
)

// BookingManager is the booking service as seen by HTTP handlers.
type BookingManager interface {
    Create(ctx context.Context, in service.CreateBookingInput) (*model.Booking, error)
    Get(ctx context.Context, id string) (*model.Booking, error)
    GetByReference(ctx context.Context, reference string) (*model.Booking, error)
    ConfirmPayment(ctx context.Context, in service.ConfirmPaymentInput) (*model.Booking, error)
    Cancel(ctx context.Context, id, reason string) (*model.Booking, error)
    Complete(ctx context.Context, id string) (*model.Booking, error)
    UpdatePassenger(ctx context.Context, bookingID, ticketID string, upd model.PassengerUpdate) (*model.Passenger, error)
    ChangeSeat(ctx context.Context, bookingID, ticketID, seatCode string) (*model.Passenger, error)
    SeatMap(ctx context.Context, tripID string) ([]model.SeatState, error)
}

// BookingHandler serves /v1/bookings and the trip seat map.  A booking is
// visible to the user who made it, to the guest session that made it and
// to operators.
type BookingHandler struct {
    responder
    bookings BookingManager
}

// NewBookingHandler panics if bookings is nil.
func NewBookingHandler(bookings BookingManager, logger *logrus.Logger) *BookingHandler {
    if bookings == nil {
        panic("nil dependency passed to NewBookingHandler")
    }
    return &BookingHandler{responder: newResponder(logger), bookings: bookings}
}

// Create handles POST /v1/bookings.  The caller must hold live locks on
// every requested seat in the session it names.
func (h *BookingHandler) Create(c echo.Context) error {
    var in service.CreateBookingInput
    if err := c.Bind(&in); err != nil {
        return badRequest(c, "invalid request body")
    }
    var ok bool
    if in.UserID, in.SessionID, ok = caller(c, in.SessionID); !ok {
        return badRequest(c, "session id is required")
    }
    b, err := h.bookings.Create(c.Request().Context(), in)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusCreated, b)
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
    b, err := h.bookings.Get(c.Request().Context(), c.Param("id"))
    if err != nil {
        return h.writeError(c, err)
    }
    if !canAccess(c, b) {
        return forbidden(c)
    }
    return c.JSON(http.StatusOK, b)
}

// GetByReference handles GET /v1/bookings/reference/:reference.
func (h *BookingHandler) GetByReference(c echo.Context) error {
    b, err := h.bookings.GetByReference(c.Request().Context(), c.Param("reference"))
    if err != nil {
        return h.writeError(c, err)
    }
    if !canAccess(c, b) {
        return forbidden(c)
    }
    return c.JSON(http.StatusOK, b)
}

// ConfirmPayment handles POST /v1/bookings/:id/payment, an operator
// recording a payment taken outside the gateway.  The route is guarded by
// RequireRole(OPERATOR).  Paying twice is a 409 with code BOOK_003.
func (h *BookingHandler) ConfirmPayment(c echo.Context) error {
    var in service.ConfirmPaymentInput
    if err := c.Bind(&in); err != nil {
        return badRequest(c, "invalid request body")
    }
    if _, ok := h.load(c); !ok {
        return nil
    }
    in.BookingID = c.Param("id")
    b, err := h.bookings.ConfirmPayment(c.Request().Context(), in)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, b)
}

// Cancel handles POST /v1/bookings/:id/cancel.
func (h *BookingHandler) Cancel(c echo.Context) error {
    var body struct {
        Reason string `json:"reason"`
    }
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    if _, ok := h.load(c); !ok {
        return nil
    }
    b, err := h.bookings.Cancel(c.Request().Context(), c.Param("id"), body.Reason)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, b)
}

// Complete handles POST /v1/bookings/:id/complete.  The route is guarded
// by RequireRole(OPERATOR).
func (h *BookingHandler) Complete(c echo.Context) error {
    b, err := h.bookings.Complete(c.Request().Context(), c.Param("id"))
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, b)
}

// UpdatePassenger handles PATCH /v1/bookings/:id/passengers/:ticketId.
func (h *BookingHandler) UpdatePassenger(c echo.Context) error {
    var upd model.PassengerUpdate
    if err := c.Bind(&upd); err != nil {
        return badRequest(c, "invalid request body")
    }
    if upd.FullName == nil && upd.Phone == nil && upd.DocumentID == nil {
        return badRequest(c, "nothing to update")
    }
    if _, ok := h.load(c); !ok {
        return nil
    }
    p, err := h.bookings.UpdatePassenger(c.Request().Context(), c.Param("id"), c.Param("ticketId"), upd)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, p)
}

// ChangeSeat handles PUT /v1/bookings/:id/passengers/:ticketId/seat.
func (h *BookingHandler) ChangeSeat(c echo.Context) error {
    var body struct {
        SeatCode string `json:"seat_code"`
    }
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    if strings.TrimSpace(body.SeatCode) == "" {
        return badRequest(c, "seat_code is required")
    }
    if _, ok := h.load(c); !ok {
        return nil
    }
    p, err := h.bookings.ChangeSeat(c.Request().Context(), c.Param("id"), c.Param("ticketId"), body.SeatCode)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, p)
}

// SeatMap handles GET /v1/trips/:tripId/seats.  If the lock store cannot
// be read the answer is 503, never a map showing locked seats as free.
func (h *BookingHandler) SeatMap(c echo.Context) error {
    tripID := c.Param("tripId")
    seats, err := h.bookings.SeatMap(c.Request().Context(), tripID)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"trip_id": tripID, "seats": seats})
}

// load fetches the booking named by :id and checks the caller may act on
// it.  When ok is false the response has been written.
func (h *BookingHandler) load(c echo.Context) (*model.Booking, bool) {
    b, err := h.bookings.Get(c.Request().Context(), c.Param("id"))
    if err != nil {
        _ = h.writeError(c, err)
        return nil, false
    }
    if !canAccess(c, b) {
        _ = forbidden(c)
        return nil, false
    }
    return b, true
}

// canAccess reports whether the caller owns the booking or is an operator.
// Guest bookings are owned by the session that created them.
func canAccess(c echo.Context, b *model.Booking) bool {
    if middleware.Role(c) == middleware.RoleOperator {
        return true
    }
    if b.UserID != nil {
        return middleware.UserID(c) == *b.UserID
    }
    s := sessionID(c, "")
    return s != "" && s == b.SessionID
}

func forbidden(c echo.Context) error {
    return c.JSON(http.StatusForbidden, errorBody{Error: "booking belongs to another customer", Code: "FORBIDDEN"})
}
