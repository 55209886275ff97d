package middleware

import (
    "io"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"
    logtest "github.com/sirupsen/logrus/hooks/test"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/bus-seat-booking/internal/config"
)

const testSecret = "s3cret"

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
    t.Helper()
    s, err := jwt.NewWithClaims(method, claims).SignedString(key)
    require.NoError(t, err)
    return s
}

// whoami echoes the identity OptionalJWT stored.
func whoami(c echo.Context) error {
    return c.JSON(http.StatusOK, echo.Map{"user_id": UserID(c), "role": Role(c)})
}

func serve(e *echo.Echo, method, path, auth string) *httptest.ResponseRecorder {
    req := httptest.NewRequest(method, path, nil)
    if auth != "" {
        req.Header.Set("Authorization", auth)
    }
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec
}

func TestOptionalJWT(t *testing.T) {
    e := echo.New()
    e.GET("/me", whoami, OptionalJWT(testSecret))

    rec := serve(e, http.MethodGet, "/me", "")
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.JSONEq(t, `{"user_id":"","role":""}`, rec.Body.String())

    tok := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
        "sub": "u-42", "role": RoleOperator, "exp": time.Now().Add(time.Hour).Unix(),
    })
    rec = serve(e, http.MethodGet, "/me", "Bearer "+tok)
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.JSONEq(t, `{"user_id":"u-42","role":"OPERATOR"}`, rec.Body.String())

    numeric := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": 7})
    rec = serve(e, http.MethodGet, "/me", "Bearer "+numeric)
    assert.JSONEq(t, `{"user_id":"7","role":""}`, rec.Body.String())
}

func TestOptionalJWT_RejectsBadTokens(t *testing.T) {
    e := echo.New()
    e.GET("/me", whoami, OptionalJWT(testSecret))

    expired := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
        "sub": "u-1", "exp": time.Now().Add(-time.Minute).Unix(),
    })
    wrongKey := signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u-1"})
    noSub := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"role": "CUSTOMER"})

    for name, auth := range map[string]string{
        "expired":   "Bearer " + expired,
        "wrong key": "Bearer " + wrongKey,
        "no sub":    "Bearer " + noSub,
        "basic":     "Basic dXNlcjpwYXNz",
        "garbage":   "Bearer not.a.jwt",
    } {
        rec := serve(e, http.MethodGet, "/me", auth)
        assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
    }
}

func TestRequireRole(t *testing.T) {
    e := echo.New()
    e.POST("/complete", whoami, OptionalJWT(testSecret), RequireRole(RoleOperator))

    assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodPost, "/complete", "").Code)

    customer := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u-1", "role": RoleCustomer})
    assert.Equal(t, http.StatusForbidden, serve(e, http.MethodPost, "/complete", "Bearer "+customer).Code)

    operator := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "op-1", "role": RoleOperator})
    assert.Equal(t, http.StatusOK, serve(e, http.MethodPost, "/complete", "Bearer "+operator).Code)
}

func TestTokenBucket(t *testing.T) {
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })
    log := logrus.New()
    log.SetOutput(io.Discard)

    cfg := config.RateLimitConfig{
        Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour,
        TTL: 2 * time.Hour, KeyStrategy: "ip_route", Prefix: "rl",
    }
    e := echo.New()
    e.POST("/v1/trips/:tripId/locks", func(c echo.Context) error { return c.NoContent(http.StatusCreated) },
        NewTokenBucket(cfg, rdb, log))

    for i := 0; i < 2; i++ {
        rec := serve(e, http.MethodPost, "/v1/trips/T1/locks", "")
        require.Equal(t, http.StatusCreated, rec.Code)
        assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
    }
    rec := serve(e, http.MethodPost, "/v1/trips/T1/locks", "")
    assert.Equal(t, http.StatusTooManyRequests, rec.Code)
    assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
    assert.NotEmpty(t, rec.Header().Get("Retry-After"))

    // another trip has its own bucket
    assert.Equal(t, http.StatusCreated, serve(e, http.MethodPost, "/v1/trips/T2/locks", "").Code)

    // a broken limiter lets traffic through
    mr.Close()
    assert.Equal(t, http.StatusCreated, serve(e, http.MethodPost, "/v1/trips/T1/locks", "").Code)
}

func TestBuildRateKey(t *testing.T) {
    e := echo.New()
    req := httptest.NewRequest(http.MethodPost, "/v1/trips/T1/locks", nil)
    req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
    c := e.NewContext(req, httptest.NewRecorder())
    c.SetPath("/v1/trips/:tripId/locks")
    c.SetParamNames("tripId")
    c.SetParamValues("T1")

    key := func(strategy string) string {
        return buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: strategy}, c)
    }
    assert.Equal(t, "rl:ip:10.0.0.1", key("ip"))
    assert.Equal(t, "rl:user:guest", key("user"))
    assert.Equal(t, "rl:ip:10.0.0.1:route:POST /v1/trips/:tripId/locks T1", key("ip_route"))
    assert.Equal(t, key("ip_user_route"), key("bogus"))

    c.Set(ContextUserID, "U1")
    assert.Equal(t, "rl:user:U1", key("user"))
}

func TestTokenBucket_Disabled(t *testing.T) {
    e := echo.New()
    e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
        NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil, logrus.New()))
    for i := 0; i < 5; i++ {
        assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x", "").Code)
    }
}

func TestRequestLogger(t *testing.T) {
    logger, hook := logtest.NewNullLogger()
    e := echo.New()
    e.Use(RequestLogger(logger), OptionalJWT(testSecret))
    e.GET("/ok", whoami)
    e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusServiceUnavailable, "down") })

    tok := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "U7", "role": RoleCustomer})
    serve(e, http.MethodGet, "/ok", "Bearer "+tok)
    require.Len(t, hook.AllEntries(), 1)
    entry := hook.LastEntry()
    assert.Equal(t, logrus.InfoLevel, entry.Level)
    assert.Equal(t, "/ok", entry.Data["route"])
    assert.Equal(t, "U7", entry.Data["user_id"])

    serve(e, http.MethodGet, "/boom", "")
    assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
    assert.Equal(t, http.StatusServiceUnavailable, hook.LastEntry().Data["status"])
}
