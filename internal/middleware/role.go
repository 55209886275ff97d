package middleware // middleware provides shared request processing for handlers

import (
    "net/http"

    "github.com/labstack/echo/v4"
)

// Roles carried in the JWT role claim.
const (
    RoleCustomer = "CUSTOMER"
    RoleOperator = "OPERATOR"
)

// RequireRole returns a middleware that lets the request through only when
// OptionalJWT stored one of the given roles.  Guests get 401 since they
// could retry with a token; authenticated callers with another role get
// 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
    allowed := make(map[string]bool, len(roles))
    for _, r := range roles {
        allowed[r] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if UserID(c) == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
            }
            if !allowed[Role(c)] {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
            }
            return next(c)
        }
    }
}
