package middleware

// identity.go defines helpers shared across middleware files and handlers
// for the authenticated caller stored in the Echo context by JWTAuth.

import (
	"github.com/labstack/echo/v4"

	"github.com/ahlallah/ahl-allah-server/internal/model"
)

const (
	ctxIdentity = "identity"
	ctxUserID   = "user_id"
	ctxRole     = "role"
)

func setIdentity(c echo.Context, id model.Identity) {
	c.Set(ctxIdentity, id)
	c.Set(ctxUserID, id.UserID)
	c.Set(ctxRole, id.Role)
}

// Identity returns the caller validated by JWTAuth.  ok is false on routes
// that are not behind JWTAuth.
func Identity(c echo.Context) (model.Identity, bool) {
	id, ok := c.Get(ctxIdentity).(model.Identity)
	return id, ok && id.UserID != ""
}

// userID returns the caller's id or "guest" when no one is authenticated.
func userID(c echo.Context) string {
	if id, ok := Identity(c); ok {
		return id.UserID
	}
	return "guest"
}
