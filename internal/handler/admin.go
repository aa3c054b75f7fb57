package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/service"
)

// AdminHandler serves the tutor approval workflow.  Every route is behind
// JWTAuth and RequireRole(RoleAdmin).
type AdminHandler struct {
	Auth *service.Auth
}

func NewAdminHandler(a *service.Auth) *AdminHandler { return &AdminHandler{Auth: a} }

type updateRoleReq struct {
	RoleID int `json:"roleId" validate:"required"`
}

// PendingMohafez lists tutor applicants awaiting review.
func (h *AdminHandler) PendingMohafez(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	accs, err := h.Auth.PendingTutors(ctx)
	if err != nil {
		return err
	}
	out := make([]UserView, len(accs))
	for i, a := range accs {
		out[i] = accountView(a)
	}
	return success(c, "Pending mohafez applications retrieved successfully", out)
}

func (h *AdminHandler) ApproveMohafez(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	acc, err := h.Auth.ApproveTutor(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return success(c, "Mohafez approved successfully", accountView(acc))
}

func (h *AdminHandler) RejectMohafez(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Auth.RejectTutor(ctx, c.Param("id")); err != nil {
		return err
	}
	return success(c, "Mohafez rejected and removed successfully", nil)
}

func (h *AdminHandler) UpdateRole(c echo.Context) error {
	var req updateRoleReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Auth.UpdateRole(ctx, c.Param("id"), model.Role(req.RoleID))
	if err != nil {
		return err
	}
	return success(c, "User role updated successfully", userView(u))
}
