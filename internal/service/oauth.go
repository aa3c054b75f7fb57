package service

import (
	"context"
	"errors"
	"strings"

	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/queue"
	"github.com/ahlallah/ahl-allah-server/internal/repository"
	"github.com/ahlallah/ahl-allah-server/internal/utils"
)

const (
	MsgInvalidProvider  = "Invalid provider"
	MsgProviderLinked   = "OAuth account already linked to another user"
	MsgProfileForbidden = "Cannot complete another user's profile"
)

// SupportedProvider reports whether p is a provider accounts can be
// federated with.
func SupportedProvider(p string) bool { return p == "google" || p == "apple" }

// FederatedLogin signs in with an identity asserted by an OAuth provider.
// The account is resolved by provider id first and by email second; when
// neither matches a new Normal account is created.
func (a *Auth) FederatedLogin(ctx context.Context, id model.FederatedIdentity) (Session, error) {
	if id.ProviderID == "" || !SupportedProvider(id.Provider) {
		return Session{}, Unauthorized(MsgAuthFailed)
	}
	u, err := a.resolveFederated(ctx, id)
	switch {
	case err == nil:
		if err := a.users.LinkProvider(ctx, u.ID, id.Provider, id.ProviderID, id.Avatar); err != nil {
			return Session{}, Internal(MsgAuthFailed, err)
		}
		u.Provider, u.ProviderID, u.EmailVerified = id.Provider, id.ProviderID, true
		if u.Avatar == "" {
			u.Avatar = id.Avatar
		}
	case errors.Is(err, repository.ErrNotFound):
		if u, err = a.createFederated(ctx, id); err != nil {
			return Session{}, err
		}
	default:
		return Session{}, Internal(MsgAuthFailed, err)
	}
	a.touch(ctx, &u)
	s, err := a.session(ctx, u, true)
	if err != nil {
		return Session{}, err
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventOAuthLogin, UserID: u.ID, RoleID: int(u.Role), Provider: id.Provider})
	return s, nil
}

func (a *Auth) resolveFederated(ctx context.Context, id model.FederatedIdentity) (model.User, error) {
	u, err := a.users.GetByProvider(ctx, id.Provider, id.ProviderID)
	if err == nil || !errors.Is(err, repository.ErrNotFound) || id.Email == "" {
		return u, err
	}
	return a.users.GetByEmail(ctx, id.Email)
}

func (a *Auth) createFederated(ctx context.Context, id model.FederatedIdentity) (model.User, error) {
	email := model.RealEmail(id.Email)
	if id.Email == "" {
		email = model.PlaceholderEmail(id.ProviderID, id.Provider+".local")
	}
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = "User"
	}
	now := a.now()
	u := model.User{
		ID:             a.newID(),
		Email:          email,
		EmailVerified:  true,
		Name:           name,
		Role:           model.RoleNormal,
		Provider:       id.Provider,
		ProviderID:     id.ProviderID,
		Avatar:         id.Avatar,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := a.users.Create(ctx, &u); err != nil {
		return model.User{}, createErr(err)
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventRegistered, UserID: u.ID, RoleID: int(u.Role), Provider: id.Provider})
	return u, nil
}

// LinkRequest attaches a provider identity to a password account.
type LinkRequest struct {
	Email      string
	Password   string
	Provider   string
	ProviderID string
	Avatar     string
}

// LinkOAuth binds a provider identity to the account proven by email and
// password.
func (a *Auth) LinkOAuth(ctx context.Context, r LinkRequest) (Session, error) {
	if !SupportedProvider(r.Provider) {
		return Session{}, Validation(MsgInvalidProvider)
	}
	u, err := a.users.GetByEmail(ctx, r.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return Session{}, Internal("Failed to link OAuth account", err)
	}
	if err != nil || !u.HasPassword() {
		utils.VerifyPassword("", r.Password)
		return Session{}, Unauthorized(MsgInvalidCredentials)
	}
	if !utils.VerifyPassword(u.PasswordHash, r.Password) {
		return Session{}, Unauthorized(MsgInvalidCredentials)
	}
	holder, err := a.users.GetByProvider(ctx, r.Provider, r.ProviderID)
	switch {
	case err == nil && holder.ID != u.ID:
		return Session{}, Conflict(MsgProviderLinked)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return Session{}, Internal("Failed to link OAuth account", err)
	}
	if err := a.users.LinkProvider(ctx, u.ID, r.Provider, r.ProviderID, r.Avatar); err != nil {
		return Session{}, Internal("Failed to link OAuth account", err)
	}
	u.Provider, u.ProviderID, u.EmailVerified = r.Provider, r.ProviderID, true
	if u.Avatar == "" {
		u.Avatar = r.Avatar
	}
	a.touch(ctx, &u)
	a.emit(ctx, queue.AuthEvent{Type: queue.EventOAuthLinked, UserID: u.ID, Provider: r.Provider})
	return a.session(ctx, u, true)
}

// ProfileCompletion carries the fields missing after a federated or phone
// sign up.  UserID is optional and, when set, must name the caller.
type ProfileCompletion struct {
	UserID      string
	Name        string
	Country     string
	City        string
	BirthYear   int
	Gender      string
	Preferences model.StudentProfile
}

// CompleteProfile fills the caller's personal fields and creates the
// student profile if it is missing.
func (a *Auth) CompleteProfile(ctx context.Context, callerID string, in ProfileCompletion) (Session, error) {
	if in.UserID != "" && in.UserID != callerID {
		return Session{}, Forbidden(MsgProfileForbidden)
	}
	upd := repository.ProfileUpdate{
		Name:      strings.TrimSpace(in.Name),
		Country:   strings.TrimSpace(in.Country),
		City:      strings.TrimSpace(in.City),
		BirthYear: in.BirthYear,
		Age:       model.AgeIn(in.BirthYear, a.now().Year()),
		Gender:    in.Gender,
	}
	err := a.users.CompleteProfile(ctx, callerID, upd, withStudentDefaults(in.Preferences))
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, NotFound(MsgUserNotFound)
	}
	if err != nil {
		return Session{}, Internal("Failed to complete profile", err)
	}
	u, err := a.users.GetByID(ctx, callerID)
	if err != nil {
		return Session{}, Internal("Failed to complete profile", err)
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventProfileDone, UserID: u.ID})
	return a.session(ctx, u, true)
}
