package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ahlallah/ahl-allah-server/internal/logger"
)

// RequestLogger injects a request scoped zap logger carrying the request id,
// method and path into the request context, and logs one line per request
// once the handler (and the error handler) have produced a status.
// It expects echo's RequestID middleware to run first.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)

			reqLog := logger.L().With(
				logger.RequestID(rid),
				logger.Method(req.Method),
				logger.Path(req.URL.Path),
			)
			c.SetRequest(req.WithContext(logger.ToContext(req.Context(), reqLog)))

			err := next(c)
			if err != nil {
				// Let the error handler write the envelope so the logged
				// status is the one the client saw.
				c.Error(err)
			}

			fields := []zap.Field{
				logger.Status(c.Response().Status),
				logger.ClientIP(c.RealIP()),
				logger.DurationMs(time.Since(start)),
			}
			if uid := userID(c); uid != "guest" {
				fields = append(fields, logger.UserID(uid))
			}
			switch status := c.Response().Status; {
			case status >= 500:
				reqLog.Error("request completed", fields...)
			case status >= 400:
				reqLog.Warn("request completed", fields...)
			default:
				reqLog.Info("request completed", fields...)
			}
			return nil
		}
	}
}
