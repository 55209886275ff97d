package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
)

// Context keys set by OptionalJWT and read by handlers.
const (
    ContextUserID = "user_id"
    ContextRole   = "role"
)

// OptionalJWT returns an Echo middleware that accepts an optional Bearer
// access token.  Requests without an Authorization header pass through as
// guests.  A header that is present but does not carry a valid HS256
// token is rejected with 401, so a client with an expired token is told
// so instead of silently losing its seat locks to a guest identity.  On
// success the token's subject and role claims are stored in the context
// under ContextUserID and ContextRole.  An empty secret disables token
// verification entirely and every caller is a guest.
func OptionalJWT(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if auth == "" || secret == "" {
                return next(c)
            }
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "malformed authorization header"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            // Only HMAC signatures are accepted; anything else could be a
            // key confusion attempt.
            tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
                if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
                    return nil, echo.ErrUnauthorized
                }
                return []byte(secret), nil
            }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
            if err != nil || !tok.Valid {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            claims, ok := tok.Claims.(jwt.MapClaims)
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
            }
            sub := claimString(claims["sub"])
            if sub == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token has no subject"})
            }
            c.Set(ContextUserID, sub)
            if role := claimString(claims["role"]); role != "" {
                c.Set(ContextRole, role)
            }
            return next(c)
        }
    }
}
