package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// RateLimitConfig configures the token bucket in front of the seat lock
// endpoints.  Each key starts with Capacity tokens and regains
// RefillTokens every RefillInterval; a request spends one token.
type RateLimitConfig struct {
    Enabled        bool
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
    TTL            time.Duration
    KeyStrategy    string // ip, user, route or a combination such as ip_user_route
    Prefix         string
    Debug          bool
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.  The defaults allow a
// burst of 20 lock or extend calls and then one every three seconds per
// caller and route, which is far above what a person picking seats does.
func LoadRateLimitConfig() RateLimitConfig {
    cfg := RateLimitConfig{
        Enabled:        envBool("RATE_LIMIT_ENABLED", true),
        Capacity:       envInt("RATE_LIMIT_CAPACITY", 20),
        RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
        RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", 3*time.Second),
        TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
        KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
        Prefix:         envStr("RATE_LIMIT_PREFIX", "rl:seat_locks"),
        Debug:          envBool("RATE_LIMIT_DEBUG", false),
    }
    if b := envInt("RATE_LIMIT_BURST", -1); b > 0 {
        cfg.Capacity = b
    }
    return cfg.normalize()
}

// normalize clamps values the limiter script cannot work with.  The
// bucket must outlive at least a few refills or idle callers would be
// handed a full bucket on every request.
func (c RateLimitConfig) normalize() RateLimitConfig {
    if c.Capacity < 1 {
        c.Capacity = 1
    }
    if c.RefillTokens < 1 {
        c.RefillTokens = 1
    }
    if c.RefillInterval <= 0 {
        c.RefillInterval = time.Second
    }
    if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
        c.TTL = minTTL
    }
    return c
}

func envStr(k, d string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return d
}

func envBool(k string, d bool) bool {
    switch strings.ToLower(os.Getenv(k)) {
    case "1", "true", "yes", "on":
        return true
    case "0", "false", "no", "off":
        return false
    }
    return d
}

func envInt(k string, d int) int {
    if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
        return n
    }
    return d
}

func envDur(k string, d time.Duration) time.Duration {
    if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
        return dur
    }
    return d
}
