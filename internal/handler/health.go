package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Health returns a health‑check endpoint used by load balancers and
// monitoring systems.  Every named check runs with a short timeout; any
// failure turns the answer into 503 listing the failing dependencies.
// Seat locks live in Redis, so a service that cannot reach it must not
// look healthy.
func Health(checks map[string]Check) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()

        failed := map[string]string{}
        for name, check := range checks {
            if err := check(ctx); err != nil {
                failed[name] = err.Error()
            }
        }
        if len(failed) > 0 {
            return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable", "failed": failed})
        }
        return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
    }
}
