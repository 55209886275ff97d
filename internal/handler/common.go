package handler // handler defines http handlers

import (
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/bus-seat-booking/internal/middleware"
    "github.com/iliyamo/bus-seat-booking/internal/repository"
    "github.com/iliyamo/bus-seat-booking/internal/service"
    "github.com/iliyamo/bus-seat-booking/internal/webhook"
)

// SessionHeader identifies the browser or app session holding seat locks.
// The session_id query parameter or body field is accepted as well.
const SessionHeader = "X-Session-ID"

// errorBody is the JSON shape of every error response.
type errorBody struct {
    Error string   `json:"error"`
    Code  string   `json:"code,omitempty"`
    Seats []string `json:"seats,omitempty"`
}

// sessionID returns the caller's session from the header, then the query
// string, then the fallback taken from the request body.
func sessionID(c echo.Context, fromBody string) string {
    if s := strings.TrimSpace(c.Request().Header.Get(SessionHeader)); s != "" {
        return s
    }
    if s := strings.TrimSpace(c.QueryParam("session_id")); s != "" {
        return s
    }
    return strings.TrimSpace(fromBody)
}

// caller returns the user id (empty for guests) and session of a request.
// Guests are identified by their session alone, so one of the two must be
// present.
func caller(c echo.Context, bodySession string) (userID, session string, ok bool) {
    userID = middleware.UserID(c)
    session = sessionID(c, bodySession)
    return userID, session, session != ""
}

func badRequest(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, errorBody{Error: msg})
}

// responder writes error responses and logs the failures a client cannot
// fix through the service logger.
type responder struct {
    logger *logrus.Logger
}

func newResponder(logger *logrus.Logger) responder {
    if logger == nil {
        logger = logrus.StandardLogger()
    }
    return responder{logger: logger}
}

// requestLog returns an entry carrying the route, the caller and the trip
// or booking the request is about.
func (r responder) requestLog(c echo.Context) *logrus.Entry {
    fields := logrus.Fields{
        "method":    c.Request().Method,
        "route":     c.Path(),
        "remote_ip": c.RealIP(),
    }
    if uid := middleware.UserID(c); uid != "" {
        fields["user_id"] = uid
    }
    if trip := c.Param("tripId"); trip != "" {
        fields["trip_id"] = trip
    }
    if id := c.Param("id"); id != "" {
        fields["booking_id"] = id
    }
    return r.logger.WithFields(fields)
}

// writeError translates service and repository errors into HTTP
// responses.  Anything unrecognised is a 500 whose detail is logged, not
// returned.
func (r responder) writeError(c echo.Context, err error) error {
    var le *service.LockError
    if errors.As(err, &le) {
        return c.JSON(lockStatus(le.Code), errorBody{Error: le.Err.Error(), Code: le.Code, Seats: le.Seats})
    }
    var seats []string
    var se *repository.SeatsError
    if errors.As(err, &se) {
        seats = se.Seats
    }

    switch {
    case errors.Is(err, service.ErrNoSeats), errors.Is(err, service.ErrInvalidBooking), errors.Is(err, repository.ErrInvalidPassenger):
        return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "INVALID_REQUEST"})
    case errors.Is(err, repository.ErrUnknownSeat):
        return c.JSON(http.StatusBadRequest, errorBody{Error: "unknown seat", Code: "UNKNOWN_SEAT", Seats: seats})
    case errors.Is(err, repository.ErrTripNotFound):
        return c.JSON(http.StatusNotFound, errorBody{Error: "trip not found", Code: "TRIP_NOT_FOUND"})
    case errors.Is(err, repository.ErrBookingNotFound):
        return c.JSON(http.StatusNotFound, errorBody{Error: "booking not found", Code: "BOOKING_NOT_FOUND"})
    case errors.Is(err, repository.ErrPassengerNotFound):
        return c.JSON(http.StatusNotFound, errorBody{Error: "passenger not found", Code: "PASSENGER_NOT_FOUND"})
    case errors.Is(err, repository.ErrSeatsAlreadyBooked):
        return c.JSON(http.StatusConflict, errorBody{Error: "seats already booked", Code: "SEATS_ALREADY_BOOKED", Seats: seats})
    case errors.Is(err, repository.ErrAlreadyPaid):
        return c.JSON(http.StatusConflict, errorBody{Error: "booking already paid", Code: service.CodeAlreadyPaid})
    case errors.Is(err, repository.ErrInvalidTransition):
        return c.JSON(http.StatusConflict, errorBody{Error: err.Error(), Code: "INVALID_TRANSITION"})
    case errors.Is(err, repository.ErrAmountMismatch):
        return c.JSON(http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "AMOUNT_MISMATCH"})
    case errors.Is(err, repository.ErrReferenceExhausted):
        return c.JSON(http.StatusInternalServerError, errorBody{Error: "could not allocate a booking reference", Code: service.CodeReferenceGenerationFailed})
    case errors.Is(err, webhook.ErrMalformedPayload), errors.Is(err, webhook.ErrMissingField):
        return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "INVALID_PAYLOAD"})
    }
    r.requestLog(c).WithError(err).Error("request failed")
    return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
}

// lockStatus maps seat lock codes to HTTP statuses.  Ownership failures
// are 403; conflicts the caller may retry or resolve are 409; an
// unreachable lock store is 503 and is never reported as free seats.
func lockStatus(code string) int {
    switch code {
    case service.CodeCannotExtend, service.CodeCannotRelease:
        return http.StatusForbidden
    case service.CodeStoreUnavailable:
        return http.StatusServiceUnavailable
    default:
        return http.StatusConflict
    }
}
