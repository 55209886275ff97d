package handler

import (
    "context"
    "encoding/json"
    "errors"
    "io"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"

    "github.com/alicebob/miniredis/v2"
    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"
    logtest "github.com/sirupsen/logrus/hooks/test"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/mock"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/bus-seat-booking/internal/middleware"
    "github.com/iliyamo/bus-seat-booking/internal/model"
    "github.com/iliyamo/bus-seat-booking/internal/repository"
    "github.com/iliyamo/bus-seat-booking/internal/service"
    "github.com/iliyamo/bus-seat-booking/internal/webhook"
)

const jwtSecret = "test-secret"

func bearer(t *testing.T, sub, role string) string {
    t.Helper()
    s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "role": role}).SignedString([]byte(jwtSecret))
    require.NoError(t, err)
    return "Bearer " + s
}

func quietLogger() *logrus.Logger {
    log := logrus.New()
    log.SetOutput(io.Discard)
    return log
}

type request struct {
    method, path, body, auth, session string
    header                            map[string]string
}

func do(e *echo.Echo, r request) *httptest.ResponseRecorder {
    var body io.Reader
    if r.body != "" {
        body = strings.NewReader(r.body)
    }
    req := httptest.NewRequest(r.method, r.path, body)
    if r.body != "" {
        req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    }
    if r.auth != "" {
        req.Header.Set("Authorization", r.auth)
    }
    if r.session != "" {
        req.Header.Set(SessionHeader, r.session)
    }
    for k, v := range r.header {
        req.Header.Set(k, v)
    }
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
    t.Helper()
    var out map[string]interface{}
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
    return out
}

type gateFunc func(ctx context.Context, tripID string, seats []string) error

func (f gateFunc) CheckSeatsOpen(ctx context.Context, tripID string, seats []string) error {
    return f(ctx, tripID, seats)
}

func newLockServer(t *testing.T, gate SeatGate) (*echo.Echo, *miniredis.Miniredis) {
    t.Helper()
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
    t.Cleanup(func() { _ = rdb.Close() })
    locks := service.NewSeatLockService(repository.NewSeatLockStore(rdb), quietLogger())
    h := NewSeatLockHandler(locks, gate, quietLogger())

    e := echo.New()
    g := e.Group("/v1/trips/:tripId", middleware.OptionalJWT(jwtSecret))
    g.GET("/locks", h.List)
    g.POST("/locks", h.Lock)
    g.GET("/locks/mine", h.Mine)
    g.DELETE("/locks/mine", h.ReleaseMine)
    g.POST("/locks/extend", h.Extend)
    g.POST("/locks/release", h.Release)
    return e, mr
}

func openGate(context.Context, string, []string) error { return nil }

func TestSeatLockHandler_LockConflictAndRelease(t *testing.T) {
    e, mr := newLockServer(t, gateFunc(openGate))
    u1 := bearer(t, "U1", middleware.RoleCustomer)

    rec := do(e, request{method: http.MethodPost, path: "/v1/trips/T1/locks", auth: u1, session: "S1", body: `{"seats":["A1","A2"]}`})
    require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
    assert.Equal(t, []interface{}{"A1", "A2"}, decode(t, rec)["locked_seats"])
    assert.True(t, mr.Exists("seat_lock:T1:A1"))

    // a guest wanting one of the seats is told which one
    rec = do(e, request{method: http.MethodPost, path: "/v1/trips/T1/locks", body: `{"seats":["A1","B1"],"session_id":"guest-1"}`})
    require.Equal(t, http.StatusConflict, rec.Code)
    body := decode(t, rec)
    assert.Equal(t, service.CodeSeatsAlreadyLocked, body["code"])
    assert.Equal(t, []interface{}{"A1"}, body["seats"])
    assert.False(t, mr.Exists("seat_lock:T1:B1"))

    // another session cannot release or extend
    rec = do(e, request{method: http.MethodPost, path: "/v1/trips/T1/locks/release", body: `{"seats":["A1"],"session_id":"guest-1"}`})
    assert.Equal(t, http.StatusForbidden, rec.Code)
    assert.Equal(t, service.CodeCannotRelease, decode(t, rec)["code"])
    rec = do(e, request{method: http.MethodPost, path: "/v1/trips/T1/locks/extend", body: `{"seats":["A1"],"session_id":"guest-1"}`})
    assert.Equal(t, http.StatusForbidden, rec.Code)
    assert.Equal(t, service.CodeCannotExtend, decode(t, rec)["code"])

    rec = do(e, request{method: http.MethodPost, path: "/v1/trips/T1/locks/extend", auth: u1, session: "S1", body: `{"seats":["A1"]}`})
    assert.Equal(t, http.StatusOK, rec.Code)

    rec = do(e, request{method: http.MethodGet, path: "/v1/trips/T1/locks/mine", auth: u1})
    require.Equal(t, http.StatusOK, rec.Code)
    assert.Len(t, decode(t, rec)["locks"], 2)

    rec = do(e, request{method: http.MethodGet, path: "/v1/trips/T1/locks"})
    require.Equal(t, http.StatusOK, rec.Code)
    assert.Contains(t, decode(t, rec)["locks"], "A2")

    rec = do(e, request{method: http.MethodDelete, path: "/v1/trips/T1/locks/mine", auth: u1, session: "S1"})
    require.Equal(t, http.StatusOK, rec.Code)
    assert.ElementsMatch(t, []interface{}{"A1", "A2"}, decode(t, rec)["released_seats"])
    assert.False(t, mr.Exists("seat_lock:T1:A1"))
}

func TestSeatLockHandler_BadRequests(t *testing.T) {
    e, _ := newLockServer(t, gateFunc(openGate))

    cases := map[string]request{
        "no session": {method: http.MethodPost, path: "/v1/trips/T1/locks", body: `{"seats":["A1"]}`},
        "no seats":   {method: http.MethodPost, path: "/v1/trips/T1/locks", session: "S1", body: `{"seats":[]}`},
        "bad json":   {method: http.MethodPost, path: "/v1/trips/T1/locks", session: "S1", body: `{"seats":`},
        "mine":       {method: http.MethodGet, path: "/v1/trips/T1/locks/mine"},
    }
    for name, r := range cases {
        assert.Equal(t, http.StatusBadRequest, do(e, r).Code, name)
    }
}

func TestSeatLockHandler_BookedSeatsAreNotLocked(t *testing.T) {
    gate := gateFunc(func(_ context.Context, _ string, _ []string) error {
        return &repository.SeatsError{Err: repository.ErrSeatsAlreadyBooked, Seats: []string{"A1"}}
    })
    e, mr := newLockServer(t, gate)

    rec := do(e, request{method: http.MethodPost, path: "/v1/trips/T1/locks", session: "S1", body: `{"seats":["A1"]}`})
    assert.Equal(t, http.StatusConflict, rec.Code)
    body := decode(t, rec)
    assert.Equal(t, "SEATS_ALREADY_BOOKED", body["code"])
    assert.Equal(t, []interface{}{"A1"}, body["seats"])
    assert.False(t, mr.Exists("seat_lock:T1:A1"))
}

func TestSeatLockHandler_StoreDownIs503(t *testing.T) {
    e, mr := newLockServer(t, gateFunc(openGate))
    mr.Close()

    rec := do(e, request{method: http.MethodGet, path: "/v1/trips/T1/locks"})
    assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
    assert.Equal(t, service.CodeStoreUnavailable, decode(t, rec)["code"])
}

type mockBookings struct{ mock.Mock }

func (m *mockBookings) result(args mock.Arguments) (*model.Booking, error) {
    b, _ := args.Get(0).(*model.Booking)
    return b, args.Error(1)
}

func (m *mockBookings) Create(ctx context.Context, in service.CreateBookingInput) (*model.Booking, error) {
    return m.result(m.Called(in))
}

func (m *mockBookings) Get(ctx context.Context, id string) (*model.Booking, error) {
    return m.result(m.Called(id))
}

func (m *mockBookings) GetByReference(ctx context.Context, reference string) (*model.Booking, error) {
    return m.result(m.Called(reference))
}

func (m *mockBookings) ConfirmPayment(ctx context.Context, in service.ConfirmPaymentInput) (*model.Booking, error) {
    return m.result(m.Called(in))
}

func (m *mockBookings) Cancel(ctx context.Context, id, reason string) (*model.Booking, error) {
    return m.result(m.Called(id, reason))
}

func (m *mockBookings) Complete(ctx context.Context, id string) (*model.Booking, error) {
    return m.result(m.Called(id))
}

func (m *mockBookings) UpdatePassenger(ctx context.Context, bookingID, ticketID string, upd model.PassengerUpdate) (*model.Passenger, error) {
    args := m.Called(bookingID, ticketID, upd)
    p, _ := args.Get(0).(*model.Passenger)
    return p, args.Error(1)
}

func (m *mockBookings) ChangeSeat(ctx context.Context, bookingID, ticketID, seatCode string) (*model.Passenger, error) {
    args := m.Called(bookingID, ticketID, seatCode)
    p, _ := args.Get(0).(*model.Passenger)
    return p, args.Error(1)
}

func (m *mockBookings) SeatMap(ctx context.Context, tripID string) ([]model.SeatState, error) {
    args := m.Called(tripID)
    s, _ := args.Get(0).([]model.SeatState)
    return s, args.Error(1)
}

func (m *mockBookings) HandlePaymentEvent(ctx context.Context, ev model.WebhookEvent) error {
    return m.Called(ev).Error(0)
}

func newBookingServer(t *testing.T) (*echo.Echo, *mockBookings) {
    t.Helper()
    m := &mockBookings{}
    t.Cleanup(func() { m.AssertExpectations(t) })
    h := NewBookingHandler(m, quietLogger())

    e := echo.New()
    v1 := e.Group("/v1", middleware.OptionalJWT(jwtSecret))
    v1.GET("/trips/:tripId/seats", h.SeatMap)
    v1.POST("/bookings", h.Create)
    v1.GET("/bookings/:id", h.Get)
    v1.GET("/bookings/reference/:reference", h.GetByReference)
    v1.POST("/bookings/:id/payment", h.ConfirmPayment, middleware.RequireRole(middleware.RoleOperator))
    v1.POST("/bookings/:id/cancel", h.Cancel)
    v1.POST("/bookings/:id/complete", h.Complete, middleware.RequireRole(middleware.RoleOperator))
    v1.PATCH("/bookings/:id/passengers/:ticketId", h.UpdatePassenger)
    v1.PUT("/bookings/:id/passengers/:ticketId/seat", h.ChangeSeat)
    return e, m
}

func userBooking(status model.BookingStatus) *model.Booking {
    uid := "U1"
    return &model.Booking{ID: "B1", Reference: "BKTEST2345", TripID: "T1", UserID: &uid, SessionID: "S1",
        Status: status, PaymentStatus: model.PaymentUnpaid, TotalPrice: 210000}
}

func TestBookingHandler_Create(t *testing.T) {
    e, m := newBookingServer(t)

    m.On("Create", mock.MatchedBy(func(in service.CreateBookingInput) bool {
        return in.UserID == "U1" && in.SessionID == "S1" && in.TripID == "T1" && len(in.Passengers) == 1
    })).Return(userBooking(model.BookingPending), nil)

    body := `{"trip_id":"T1","user_id":"spoofed","seats":["A1"],"contact_email":"a@b.c","contact_phone":"1",
        "passengers":[{"full_name":"An","seat_code":"A1"}]}`
    rec := do(e, request{method: http.MethodPost, path: "/v1/bookings", auth: bearer(t, "U1", middleware.RoleCustomer), session: "S1", body: body})
    require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
    out := decode(t, rec)
    assert.Equal(t, "BKTEST2345", out["booking_reference"])
    assert.Equal(t, "pending", out["status"])
    assert.NotContains(t, out, "session_id")
}

func TestBookingHandler_CreateErrors(t *testing.T) {
    cases := []struct {
        err    error
        status int
        code   string
    }{
        {&repository.SeatsError{Err: repository.ErrSeatsAlreadyBooked, Seats: []string{"A1"}}, http.StatusConflict, "SEATS_ALREADY_BOOKED"},
        {repository.ErrTripNotFound, http.StatusNotFound, "TRIP_NOT_FOUND"},
        {repository.ErrReferenceExhausted, http.StatusInternalServerError, service.CodeReferenceGenerationFailed},
        {&service.LockError{Code: service.CodeSeatsNotLocked, Seats: []string{"A1"}, Err: service.ErrSeatsNotLocked}, http.StatusConflict, service.CodeSeatsNotLocked},
        {service.ErrInvalidBooking, http.StatusBadRequest, "INVALID_REQUEST"},
        {errors.New("boom"), http.StatusInternalServerError, ""},
    }
    for _, tc := range cases {
        e, m := newBookingServer(t)
        m.On("Create", mock.Anything).Return(nil, tc.err)

        rec := do(e, request{method: http.MethodPost, path: "/v1/bookings", session: "S1", body: `{"trip_id":"T1"}`})
        assert.Equal(t, tc.status, rec.Code, tc.err.Error())
        if tc.code != "" {
            assert.Equal(t, tc.code, decode(t, rec)["code"])
        }
    }
}

func TestBookingHandler_ConfirmPaymentTwice(t *testing.T) {
    e, m := newBookingServer(t)
    auth := bearer(t, "op", middleware.RoleOperator)

    confirmed := userBooking(model.BookingConfirmed)
    confirmed.PaymentStatus = model.PaymentPaid
    m.On("Get", "B1").Return(userBooking(model.BookingPending), nil)
    m.On("ConfirmPayment", service.ConfirmPaymentInput{BookingID: "B1", PaymentMethod: "card", Amount: 210000}).Return(confirmed, nil).Once()
    m.On("ConfirmPayment", mock.Anything).Return(nil, repository.ErrAlreadyPaid).Once()

    body := `{"payment_method":"card","amount":210000}`
    rec := do(e, request{method: http.MethodPost, path: "/v1/bookings/B1/payment", auth: auth, body: body})
    require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
    assert.Equal(t, "confirmed", decode(t, rec)["status"])

    rec = do(e, request{method: http.MethodPost, path: "/v1/bookings/B1/payment", auth: auth, body: body})
    assert.Equal(t, http.StatusConflict, rec.Code)
    assert.Equal(t, service.CodeAlreadyPaid, decode(t, rec)["code"])
}

func TestBookingHandler_ConfirmPaymentNeedsOperator(t *testing.T) {
    e, m := newBookingServer(t)

    body := `{"payment_method":"cash","amount":210000}`
    // the owner of the booking cannot mark it paid
    rec := do(e, request{method: http.MethodPost, path: "/v1/bookings/B1/payment", auth: bearer(t, "U1", middleware.RoleCustomer), body: body})
    assert.Equal(t, http.StatusForbidden, rec.Code)
    rec = do(e, request{method: http.MethodPost, path: "/v1/bookings/B1/payment", session: "S1", body: body})
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
    m.AssertNotCalled(t, "ConfirmPayment", mock.Anything)
}

func TestBookingHandler_Access(t *testing.T) {
    e, m := newBookingServer(t)

    uid := "U1"
    guest := &model.Booking{ID: "G1", SessionID: "guest-s", Status: model.BookingPending}
    m.On("Get", "B1").Return(&model.Booking{ID: "B1", UserID: &uid, Status: model.BookingPending}, nil)
    m.On("Get", "G1").Return(guest, nil)

    assert.Equal(t, http.StatusOK, do(e, request{method: http.MethodGet, path: "/v1/bookings/B1", auth: bearer(t, "U1", "CUSTOMER")}).Code)
    assert.Equal(t, http.StatusForbidden, do(e, request{method: http.MethodGet, path: "/v1/bookings/B1", auth: bearer(t, "U2", "CUSTOMER")}).Code)
    assert.Equal(t, http.StatusForbidden, do(e, request{method: http.MethodGet, path: "/v1/bookings/B1", session: "S1"}).Code)
    assert.Equal(t, http.StatusOK, do(e, request{method: http.MethodGet, path: "/v1/bookings/B1", auth: bearer(t, "op", middleware.RoleOperator)}).Code)

    assert.Equal(t, http.StatusOK, do(e, request{method: http.MethodGet, path: "/v1/bookings/G1?session_id=guest-s"}).Code)
    assert.Equal(t, http.StatusForbidden, do(e, request{method: http.MethodGet, path: "/v1/bookings/G1"}).Code)

    // a stranger cannot cancel someone else's booking
    rec := do(e, request{method: http.MethodPost, path: "/v1/bookings/G1/cancel", session: "other", body: `{}`})
    assert.Equal(t, http.StatusForbidden, rec.Code)
    m.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}

func TestBookingHandler_CancelCompleteAndPassengers(t *testing.T) {
    e, m := newBookingServer(t)
    auth := bearer(t, "U1", middleware.RoleCustomer)

    cancelled := userBooking(model.BookingCancelled)
    m.On("Get", "B1").Return(userBooking(model.BookingConfirmed), nil)
    m.On("Cancel", "B1", "plans changed").Return(cancelled, nil)
    m.On("Complete", "B1").Return(nil, repository.ErrInvalidTransition)
    name := "Le Chi"
    m.On("UpdatePassenger", "B1", "tk1", model.PassengerUpdate{FullName: &name}).Return(&model.Passenger{TicketID: "tk1", FullName: name}, nil)
    m.On("ChangeSeat", "B1", "tk1", "B2").Return(nil, &repository.SeatsError{Err: repository.ErrSeatsAlreadyBooked, Seats: []string{"B2"}})

    rec := do(e, request{method: http.MethodPost, path: "/v1/bookings/B1/cancel", auth: auth, body: `{"reason":"plans changed"}`})
    assert.Equal(t, http.StatusOK, rec.Code)

    assert.Equal(t, http.StatusForbidden, do(e, request{method: http.MethodPost, path: "/v1/bookings/B1/complete", auth: auth}).Code)
    rec = do(e, request{method: http.MethodPost, path: "/v1/bookings/B1/complete", auth: bearer(t, "op", middleware.RoleOperator)})
    assert.Equal(t, http.StatusConflict, rec.Code)

    rec = do(e, request{method: http.MethodPatch, path: "/v1/bookings/B1/passengers/tk1", auth: auth, body: `{"full_name":"Le Chi"}`})
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, http.StatusBadRequest, do(e, request{method: http.MethodPatch, path: "/v1/bookings/B1/passengers/tk1", auth: auth, body: `{}`}).Code)

    rec = do(e, request{method: http.MethodPut, path: "/v1/bookings/B1/passengers/tk1/seat", auth: auth, body: `{"seat_code":"B2"}`})
    assert.Equal(t, http.StatusConflict, rec.Code)
    assert.Equal(t, []interface{}{"B2"}, decode(t, rec)["seats"])
}

func TestBookingHandler_SeatMap(t *testing.T) {
    e, m := newBookingServer(t)
    m.On("SeatMap", "T1").Return([]model.SeatState{{SeatCode: "A1", Status: model.SeatBooked}}, nil).Once()
    m.On("SeatMap", "T1").Return(nil, &service.LockError{Code: service.CodeStoreUnavailable, Err: service.ErrStoreUnavailable}).Once()

    rec := do(e, request{method: http.MethodGet, path: "/v1/trips/T1/seats"})
    require.Equal(t, http.StatusOK, rec.Code)
    assert.Len(t, decode(t, rec)["seats"], 1)

    rec = do(e, request{method: http.MethodGet, path: "/v1/trips/T1/seats"})
    assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookHandler(t *testing.T) {
    m := &mockBookings{}
    verifier := webhook.NewVerifier("k")
    e := echo.New()
    e.POST("/v1/webhooks/payos", NewWebhookHandler(verifier, m, quietLogger()).PayOS)

    const body = `{"orderCode":"X","amount":100000,"status":"PAID"}`
    payload, err := webhook.ParseValue([]byte(body))
    require.NoError(t, err)
    sig := verifier.Sign(payload)

    rec := do(e, request{method: http.MethodPost, path: "/v1/webhooks/payos", body: body})
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
    rec = do(e, request{method: http.MethodPost, path: "/v1/webhooks/payos", body: strings.Replace(body, "100000", "1", 1),
        header: map[string]string{webhook.SignatureHeader: sig}})
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
    m.AssertNotCalled(t, "HandlePaymentEvent", mock.Anything)

    m.On("HandlePaymentEvent", model.WebhookEvent{OrderCode: "X", Status: "PAID", Amount: 100000}).Return(nil).Once()
    rec = do(e, request{method: http.MethodPost, path: "/v1/webhooks/payos", body: body, header: map[string]string{webhook.SignatureHeader: sig}})
    assert.Equal(t, http.StatusOK, rec.Code)

    m.On("HandlePaymentEvent", mock.Anything).Return(repository.ErrBookingNotFound).Once()
    rec = do(e, request{method: http.MethodPost, path: "/v1/webhooks/payos", body: body, header: map[string]string{webhook.SignatureHeader: sig}})
    assert.Equal(t, http.StatusNotFound, rec.Code)

    // signed but missing the order code
    bare := webhook.Object(map[string]webhook.Value{"status": webhook.String("PAID")})
    rec = do(e, request{method: http.MethodPost, path: "/v1/webhooks/payos", body: `{"status":"PAID"}`,
        header: map[string]string{webhook.SignatureHeader: verifier.Sign(bare)}})
    assert.Equal(t, http.StatusBadRequest, rec.Code)
    m.AssertExpectations(t)
}

func TestHandlers_LogThroughServiceLogger(t *testing.T) {
    logger, hook := logtest.NewNullLogger()

    m := &mockBookings{}
    m.On("Get", "B1").Return(nil, errors.New("connection reset")).Once()
    e := echo.New()
    v1 := e.Group("/v1", middleware.OptionalJWT(jwtSecret))
    v1.GET("/bookings/:id", NewBookingHandler(m, logger).Get)
    e.POST("/v1/webhooks/payos", NewWebhookHandler(webhook.NewVerifier("k"), m, logger).PayOS)

    rec := do(e, request{method: http.MethodGet, path: "/v1/bookings/B1", auth: bearer(t, "U1", middleware.RoleCustomer)})
    require.Equal(t, http.StatusInternalServerError, rec.Code)
    assert.NotContains(t, rec.Body.String(), "connection reset")

    entry := hook.LastEntry()
    require.NotNil(t, entry)
    assert.Equal(t, logrus.ErrorLevel, entry.Level)
    assert.Equal(t, "/v1/bookings/:id", entry.Data["route"])
    assert.Equal(t, "U1", entry.Data["user_id"])
    assert.Equal(t, "B1", entry.Data["booking_id"])
    assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "connection reset")

    hook.Reset()
    rec = do(e, request{method: http.MethodPost, path: "/v1/webhooks/payos", body: `{"orderCode":"X"}`,
        header: map[string]string{webhook.SignatureHeader: "bad"}})
    require.Equal(t, http.StatusUnauthorized, rec.Code)
    require.Len(t, hook.AllEntries(), 1)
    assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
    assert.Contains(t, hook.LastEntry().Message, "invalid signature")
    m.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
    e := echo.New()
    ok := func(context.Context) error { return nil }
    down := func(context.Context) error { return errors.New("connection refused") }
    e.GET("/up", Health(map[string]Check{"mysql": ok, "redis": ok}))
    e.GET("/down", Health(map[string]Check{"mysql": ok, "redis": down}))

    assert.Equal(t, http.StatusOK, do(e, request{method: http.MethodGet, path: "/up"}).Code)
    rec := do(e, request{method: http.MethodGet, path: "/down"})
    assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
    assert.Contains(t, rec.Body.String(), "redis")
}
