package handler

import (
    "context"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/bus-seat-booking/internal/model"
    "github.com/iliyamo/bus-seat-booking/internal/service"
)

// SeatLocker is the seat lock service as seen by HTTP handlers.
type SeatLocker interface {
    LockSeats(ctx context.Context, tripID string, seatCodes []string, userID, sessionID string) (service.LockResult, error)
    ExtendLocks(ctx context.Context, tripID string, seatCodes []string, userID, sessionID string) (service.ExtendResult, error)
    ReleaseLocks(ctx context.Context, tripID string, seatCodes []string, userID, sessionID string) (service.ReleaseResult, error)
    ReleaseAllUserLocks(ctx context.Context, userID, tripID, sessionID string) (service.ReleaseResult, error)
    GetLockedSeats(ctx context.Context, tripID string) (map[string]service.LockInfo, error)
    GetUserLockedSeats(ctx context.Context, ownerID, tripID string) ([]service.UserLock, error)
}

// SeatGate rejects seats that are unknown or already sold before a lock
// is granted.
type SeatGate interface {
    CheckSeatsOpen(ctx context.Context, tripID string, seatCodes []string) error
}

// SeatLockHandler serves /v1/trips/:tripId/locks.  Callers are users (a
// bearer token) or guests; both must name their session.
type SeatLockHandler struct {
    responder
    locks SeatLocker
    gate  SeatGate
}

// NewSeatLockHandler panics if a service dependency is nil.  A nil logger
// falls back to the logrus standard logger.
func NewSeatLockHandler(locks SeatLocker, gate SeatGate, logger *logrus.Logger) *SeatLockHandler {
    if locks == nil || gate == nil {
        panic("nil dependency passed to NewSeatLockHandler")
    }
    return &SeatLockHandler{responder: newResponder(logger), locks: locks, gate: gate}
}

type seatsRequest struct {
    Seats     []string `json:"seats"`
    SessionID string   `json:"session_id"`
}

type lockRequest struct {
    tripID  string
    seats   []string
    userID  string
    session string
}

// bind reads the trip, seats and caller identity of a lock request.  A
// non-empty message means the request is malformed.
func bind(c echo.Context) (lockRequest, string) {
    var body seatsRequest
    if err := c.Bind(&body); err != nil {
        return lockRequest{}, "invalid request body"
    }
    req := lockRequest{tripID: strings.TrimSpace(c.Param("tripId")), seats: body.Seats}
    if req.tripID == "" {
        return req, "trip id is required"
    }
    if len(req.seats) == 0 {
        return req, "seats is required"
    }
    var ok bool
    if req.userID, req.session, ok = caller(c, body.SessionID); !ok {
        return req, "session id is required"
    }
    return req, ""
}

// Lock handles POST /v1/trips/:tripId/locks.  It answers 201 with the
// locked seats and their expiry, 409 SEATS_ALREADY_LOCKED naming the
// conflicting seats, or 409 SEATS_ALREADY_BOOKED when a seat is sold.
func (h *SeatLockHandler) Lock(c echo.Context) error {
    req, msg := bind(c)
    if msg != "" {
        return badRequest(c, msg)
    }
    ctx := c.Request().Context()
    if err := h.gate.CheckSeatsOpen(ctx, req.tripID, req.seats); err != nil {
        return h.writeError(c, err)
    }
    res, err := h.locks.LockSeats(ctx, req.tripID, req.seats, req.userID, req.session)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusCreated, res)
}

// Extend handles POST /v1/trips/:tripId/locks/extend.
func (h *SeatLockHandler) Extend(c echo.Context) error {
    req, msg := bind(c)
    if msg != "" {
        return badRequest(c, msg)
    }
    res, err := h.locks.ExtendLocks(c.Request().Context(), req.tripID, req.seats, req.userID, req.session)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

// Release handles POST /v1/trips/:tripId/locks/release.  Releasing seats
// that are no longer locked succeeds with an empty list.
func (h *SeatLockHandler) Release(c echo.Context) error {
    req, msg := bind(c)
    if msg != "" {
        return badRequest(c, msg)
    }
    res, err := h.locks.ReleaseLocks(c.Request().Context(), req.tripID, req.seats, req.userID, req.session)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

// ReleaseMine handles DELETE /v1/trips/:tripId/locks/mine.
func (h *SeatLockHandler) ReleaseMine(c echo.Context) error {
    userID, session, ok := caller(c, "")
    if !ok {
        return badRequest(c, "session id is required")
    }
    res, err := h.locks.ReleaseAllUserLocks(c.Request().Context(), userID, c.Param("tripId"), session)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

// Mine handles GET /v1/trips/:tripId/locks/mine.  Users see every seat
// they hold on the trip; guests see the seats of their session.
func (h *SeatLockHandler) Mine(c echo.Context) error {
    userID, session, _ := caller(c, "")
    if userID == "" && session == "" {
        return badRequest(c, "session id is required")
    }
    tripID := c.Param("tripId")
    locks, err := h.locks.GetUserLockedSeats(c.Request().Context(), model.LockOwner(userID, session), tripID)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"trip_id": tripID, "locks": locks})
}

// List handles GET /v1/trips/:tripId/locks.
func (h *SeatLockHandler) List(c echo.Context) error {
    tripID := c.Param("tripId")
    locks, err := h.locks.GetLockedSeats(c.Request().Context(), tripID)
    if err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"trip_id": tripID, "locks": locks})
}
