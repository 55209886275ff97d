package middleware

import (
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/bus-seat-booking/internal/config"
)

// tokenBucketScript spends one token from the bucket at KEYS[1] after
// adding the tokens earned since the last refill.  ARGV: now (ms),
// capacity, tokens per refill, refill interval (ms), idle TTL (s).  It
// returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local b = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local now, cap, step, every = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4])
local tokens, ts = tonumber(b[1]) or cap, tonumber(b[2]) or now
if every > 0 and step > 0 and now > ts then
  local n = math.floor((now - ts) / every)
  tokens = math.min(cap, tokens + n * step)
  ts = ts + n * every
end
local ok, wait = 0, 0
if tokens >= 1 then
  ok, tokens = 1, tokens - 1
else
  wait = math.max(0, every - (now - ts))
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('EXPIRE', KEYS[1], ARGV[5])
return {ok, tokens, wait}
`)

// NewTokenBucket limits how fast one caller can hit the seat lock
// endpoints.  Lock and extend calls each run a conditional Redis
// transaction, so a client hammering them would slow everyone's seat
// selection.  When Redis errors the request is let through: the lock
// service reports its own store failures.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, logger *logrus.Logger) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            log := logger.WithField("key", key)

            args := []interface{}{
                time.Now().UnixMilli(),
                cfg.Capacity,
                cfg.RefillTokens,
                cfg.RefillInterval.Milliseconds(),
                int64(cfg.TTL / time.Second),
            }
            vals, err := tokenBucketScript.Run(c.Request().Context(), rdb, []string{key}, args...).Int64Slice()
            if err != nil || len(vals) != 3 {
                log.WithError(err).Warn("rate limiter unavailable, request allowed")
                return next(c)
            }
            allowed, remaining, retryMs := vals[0] == 1, vals[1], vals[2]

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

            if !allowed {
                secs := int(math.Ceil(float64(retryMs) / 1000.0))
                if secs < 0 {
                    secs = 0
                }
                h.Set("Retry-After", strconv.Itoa(secs))
                if cfg.Debug {
                    log.WithField("retry_ms", retryMs).Debug("rate limit exceeded")
                }
                return c.JSON(http.StatusTooManyRequests, echo.Map{
                    "error":       "rate limit exceeded",
                    "code":        "RATE_LIMITED",
                    "retry_after": secs,
                })
            }
            if cfg.Debug {
                h.Set("X-RateLimit-Key", key)
            }
            return next(c)
        }
    }
}

// buildRateKey names the bucket of a request.  The strategy lists the
// dimensions to key on, joined by "_": ip, user and route (the matched
// route plus its trip id, so one trip's seat rush does not starve
// another's).  Unknown dimensions are ignored; no valid dimension means
// the default ip_user_route.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    dims := map[string]func() string{
        "ip": func() string {
            if ip := c.RealIP(); ip != "" {
                return ip
            }
            return "unknown"
        },
        "user": func() string {
            if uid := UserID(c); uid != "" {
                return uid
            }
            return "guest"
        },
        "route": func() string {
            r := c.Request().Method + " " + c.Path()
            if trip := c.Param("tripId"); trip != "" {
                r += " " + trip
            }
            return r
        },
    }
    parts := []string{cfg.Prefix}
    for _, d := range strings.Split(strings.ToLower(cfg.KeyStrategy), "_") {
        if val, ok := dims[d]; ok {
            parts = append(parts, d, val())
        }
    }
    if len(parts) == 1 {
        parts = append(parts, "ip", dims["ip"](), "user", dims["user"](), "route", dims["route"]())
    }
    return strings.Join(parts, ":")
}
