package middleware

// identity.go holds the helpers that read the caller identity stored by
// OptionalJWT.  Handlers use UserID to tell users from guests; the rate
// limiter uses it to build bucket keys.

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// UserID returns the authenticated user id, or "" for guests.
func UserID(c echo.Context) string {
    if s, ok := c.Get(ContextUserID).(string); ok {
        return s
    }
    return ""
}

// Role returns the role claim of the authenticated user, or "".
func Role(c echo.Context) string {
    if s, ok := c.Get(ContextRole).(string); ok {
        return s
    }
    return ""
}

// claimString renders a string or numeric claim.  Numeric subjects come
// back from JSON as float64.
func claimString(v interface{}) string {
    switch t := v.(type) {
    case string:
        return t
    case float64:
        return strconv.FormatFloat(t, 'f', -1, 64)
    }
    return ""
}
