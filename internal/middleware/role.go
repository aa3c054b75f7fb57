package middleware // middleware provides shared request processing for handlers

import (
	"github.com/labstack/echo/v4" // echo provides middleware chaining and context

	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/service"
)

// MsgForbidden is returned when the caller's role is not allowed.
const MsgForbidden = "Insufficient permissions"

// RequireRole returns a middleware function that enforces that the
// authenticated user holds one of the given roles.  It must run after
// JWTAuth.  A request without an identity is rejected with 401, a caller
// with any other role with 403.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	// Build a set of allowed roles for constant‑time lookups.
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := Identity(c)
			if !ok {
				return service.Unauthorized(MsgMissingToken)
			}
			if !allowed[id.Role] {
				return service.Forbidden(MsgForbidden)
			}
			return next(c)
		}
	}
}

