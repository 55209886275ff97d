package middleware

import (
    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"
    "github.com/sirupsen/logrus"
)

// RequestLogger writes one structured log line per request.  Server
// errors are logged at error level, client errors at warn.
func RequestLogger(logger *logrus.Logger) echo.MiddlewareFunc {
    return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
        LogMethod:    true,
        LogURIPath:   true,
        LogRoutePath: true,
        LogStatus:    true,
        LogLatency:   true,
        LogRemoteIP:  true,
        LogRequestID: true,
        LogError:     true,
        LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
            entry := logger.WithFields(logrus.Fields{
                "method":     v.Method,
                "path":       v.URIPath,
                "route":      v.RoutePath,
                "status":     v.Status,
                "latency_ms": v.Latency.Milliseconds(),
                "remote_ip":  v.RemoteIP,
                "request_id": v.RequestID,
                "user_id":    UserID(c),
            })
            if v.Error != nil {
                entry = entry.WithError(v.Error)
            }
            switch {
            case v.Status >= 500:
                entry.Error("request failed")
            case v.Status >= 400:
                entry.Warn("request rejected")
            default:
                entry.Info("request served")
            }
            return nil
        },
    })
}
