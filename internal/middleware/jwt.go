package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"strings" // string utilities for prefix checking and trimming

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/ahlallah/ahl-allah-server/internal/logger"
	"github.com/ahlallah/ahl-allah-server/internal/service"
	"github.com/ahlallah/ahl-allah-server/internal/utils"
)

// Messages returned by the bearer checks.  A bad signature, a foreign
// issuer or audience and an expired token all share one message.
const (
	MsgMissingToken = "Access token required"
	MsgInvalidToken = "Invalid or expired token"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the caller's identity into the request context.  Handlers and
// downstream middleware read it back through Identity(c), or the plain
// `c.Get("user_id")` and `c.Get("role")` values.
func JWTAuth(issuer *utils.Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header starts with "Bearer " followed by the JWT.
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return service.Unauthorized(MsgMissingToken)
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			// The issuer checks algorithm, signature, iss, aud and exp.
			id, err := issuer.Validate(raw)
			if err != nil {
				return service.Unauthorized(MsgInvalidToken)
			}

			setIdentity(c, id)
			// Enrich the request logger so service logs carry the caller.
			req := c.Request()
			ctx := logger.ToContext(req.Context(), logger.From(req.Context()).With(logger.UserID(id.UserID)))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
