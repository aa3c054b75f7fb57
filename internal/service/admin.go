package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/queue"
	"github.com/ahlallah/ahl-allah-server/internal/repository"
)

const (
	MsgTutorNotFound   = "Mohafez user not found"
	MsgNotPendingTutor = "User is not a pending mohafez"
	MsgInvalidRole     = "Invalid role ID"
)

// PendingTutors lists Mohafez applicants with their tutor profiles,
// newest first.
func (a *Auth) PendingTutors(ctx context.Context) ([]Account, error) {
	users, err := a.users.ListByRole(ctx, model.RolePendingTutor)
	if err != nil {
		return nil, Internal("Failed to fetch pending mohafez applications", err)
	}
	out := make([]Account, 0, len(users))
	for _, u := range users {
		acc, err := a.account(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// pendingTutor loads an applicant that is still awaiting review.
func (a *Auth) pendingTutor(ctx context.Context, id string) (model.User, error) {
	u, err := a.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && u.TutorProfileID == nil) {
		return model.User{}, NotFound(MsgTutorNotFound)
	}
	if err != nil {
		return model.User{}, Internal("Failed to load mohafez", err)
	}
	if u.Role != model.RolePendingTutor {
		return model.User{}, Validation(MsgNotPendingTutor)
	}
	return u, nil
}

// ApproveTutor promotes a PendingTutor to Tutor.
func (a *Auth) ApproveTutor(ctx context.Context, id string) (Account, error) {
	u, err := a.pendingTutor(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if err := a.users.UpdateRole(ctx, u.ID, model.RoleTutor); err != nil {
		return Account{}, Internal("Failed to approve mohafez", err)
	}
	u.Role = model.RoleTutor
	a.emit(ctx, queue.AuthEvent{Type: queue.EventTutorApproved, UserID: u.ID, RoleID: int(u.Role)})
	return a.account(ctx, u)
}

// RejectTutor deletes a PendingTutor together with its tutor profile.
func (a *Auth) RejectTutor(ctx context.Context, id string) error {
	u, err := a.pendingTutor(ctx, id)
	if err != nil {
		return err
	}
	if err := a.users.DeleteWithTutorProfile(ctx, u.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound(MsgTutorNotFound)
		}
		return Internal("Failed to reject mohafez", err)
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventTutorRejected, UserID: u.ID})
	return nil
}

// UpdateRole sets any user's role.
func (a *Auth) UpdateRole(ctx context.Context, id string, role model.Role) (model.User, error) {
	if !role.Valid() {
		return model.User{}, Validation(MsgInvalidRole)
	}
	u, err := a.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, NotFound(MsgUserNotFound)
	}
	if err != nil {
		return model.User{}, Internal("Failed to update user role", err)
	}
	if err := a.users.UpdateRole(ctx, u.ID, role); err != nil {
		return model.User{}, Internal("Failed to update user role", err)
	}
	from := u.Role
	u.Role = role
	a.emit(ctx, queue.AuthEvent{Type: queue.EventRoleChanged, UserID: u.ID, RoleID: int(role),
		Detail: "from:" + strconv.Itoa(int(from))})
	return u, nil
}
