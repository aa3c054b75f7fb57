package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahlallah/ahl-allah-server/internal/lock"
	"github.com/ahlallah/ahl-allah-server/internal/logger"
	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/queue"
	"github.com/ahlallah/ahl-allah-server/internal/repository"
	"github.com/ahlallah/ahl-allah-server/internal/utils"
)

// Client-facing messages that tests and handlers rely on.
const (
	MsgInvalidCredentials = "Invalid credentials"
	MsgUserExists         = "User already exists"
	MsgUserNotFound       = "User not found"
	MsgInvalidRefresh     = "Invalid refresh token"
	MsgRefreshExpired     = "Refresh token expired"
	MsgPasswordTooShort   = "Password must be at least 6 characters long"
	MsgAuthFailed         = "Authentication failed"
)

// Auth is the auth core.  It is safe for concurrent use.
type Auth struct {
	users  UserStore
	tokens TokenStore
	otps   OtpStore
	issuer *utils.Issuer
	d      Deps
	now    func() time.Time
	newID  func() string
	events queue.Sink
	locker lock.Locker
}

// New builds the auth core from its dependencies.
func New(d Deps) *Auth {
	a := &Auth{
		users:  d.Users,
		tokens: d.Tokens,
		otps:   d.Otps,
		issuer: d.Issuer,
		d:      d,
		now:    d.Now,
		newID:  d.NewID,
		events: d.Events,
		locker: d.Locker,
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	if a.newID == nil {
		a.newID = func() string { return uuid.NewString() }
	}
	if a.events == nil {
		a.events = queue.Discard{}
	}
	if a.locker == nil {
		a.locker = lock.NewLocal()
	}
	if a.d.BcryptCost == 0 {
		a.d.BcryptCost = 12
	}
	if a.d.RefreshTTLDays == 0 {
		a.d.RefreshTTLDays = 30
	}
	return a
}

// Session is the result of a successful authentication.  RefreshToken is
// empty for flows that only mint an access token.
type Session struct {
	Token                  string
	ExpiresAt              time.Time
	RefreshToken           string
	User                   model.User
	NeedsProfileCompletion bool
}

// session mints an access token for u and, when withRefresh is set, a
// refresh token whose hash is persisted.
func (a *Auth) session(ctx context.Context, u model.User, withRefresh bool) (Session, error) {
	at, err := a.issuer.Issue(u.ID, u.Email.Address, u.Role)
	if err != nil {
		return Session{}, Internal("Failed to issue token", err)
	}
	s := Session{Token: at.Token, ExpiresAt: at.Exp, User: u, NeedsProfileCompletion: u.NeedsProfileCompletion()}
	if !withRefresh {
		return s, nil
	}
	rt, err := utils.NewRefreshToken(a.now(), a.d.RefreshTTLDays)
	if err != nil {
		return Session{}, Internal("Failed to issue token", err)
	}
	if err := a.tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(rt.Raw), rt.Exp); err != nil {
		return Session{}, Internal("Failed to issue token", err)
	}
	s.RefreshToken = rt.Raw
	return s, nil
}

func (a *Auth) emit(ctx context.Context, ev queue.AuthEvent) {
	ev.OccurredAt = a.now().Format(time.RFC3339)
	a.events.Emit(ctx, ev)
}

// Login authenticates with email and password.  Unknown email, account
// without a password and wrong password all fail the same way.
func (a *Auth) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := a.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return Session{}, Internal("Login failed", err)
	}
	if err != nil || !u.HasPassword() {
		utils.VerifyPassword("", password)
		a.emit(ctx, queue.AuthEvent{Type: queue.EventLoginFailed, Subject: logger.Mask(model.NormalizeEmail(email), 6)})
		return Session{}, Unauthorized(MsgInvalidCredentials)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		a.emit(ctx, queue.AuthEvent{Type: queue.EventLoginFailed, UserID: u.ID})
		return Session{}, Unauthorized(MsgInvalidCredentials)
	}
	a.touch(ctx, &u)
	s, err := a.session(ctx, u, true)
	if err != nil {
		return Session{}, err
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventLoginSucceeded, UserID: u.ID, RoleID: int(u.Role)})
	return s, nil
}

// touch stamps last activity.  A failure is logged, not returned.
func (a *Auth) touch(ctx context.Context, u *model.User) {
	now := a.now()
	if err := a.users.Touch(ctx, u.ID, now); err != nil {
		logger.From(ctx).Warn("touch last activity failed", logger.UserID(u.ID), logger.Err(err))
		return
	}
	u.LastActivityAt = now
}

// Registration is the personal part shared by both registration forms.
type Registration struct {
	Email     string
	Password  string
	Name      string
	Country   string
	City      string
	BirthYear int
	Gender    string
}

func (a *Auth) newLocalUser(r Registration, role model.Role) (model.User, error) {
	if len(r.Password) < utils.MinPasswordLength {
		return model.User{}, Validation(MsgPasswordTooShort)
	}
	hash, err := utils.HashPassword(r.Password, a.d.BcryptCost)
	if err != nil {
		return model.User{}, Internal("Registration failed", err)
	}
	now := a.now()
	return model.User{
		ID:             a.newID(),
		Email:          model.RealEmail(r.Email),
		PasswordHash:   hash,
		Name:           strings.TrimSpace(r.Name),
		Country:        strings.TrimSpace(r.Country),
		City:           strings.TrimSpace(r.City),
		BirthYear:      r.BirthYear,
		Age:            model.AgeIn(r.BirthYear, now.Year()),
		Gender:         r.Gender,
		Role:           role,
		CreatedAt:      now,
		LastActivityAt: now,
	}, nil
}

func (a *Auth) ensureEmailFree(ctx context.Context, email string) error {
	_, err := a.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return Conflict(MsgUserExists)
	case errors.Is(err, repository.ErrNotFound):
		return nil
	}
	return Internal("Registration failed", err)
}

func createErr(err error) error {
	if errors.Is(err, repository.ErrEmailExists) {
		return Conflict(MsgUserExists)
	}
	if errors.Is(err, repository.ErrPhoneExists) {
		return Conflict("Phone already linked to another account")
	}
	return Internal("Registration failed", err)
}

// RegisterStudent creates a Normal user with its student profile.
func (a *Auth) RegisterStudent(ctx context.Context, r Registration, prefs model.StudentProfile) (Session, error) {
	if err := a.ensureEmailFree(ctx, r.Email); err != nil {
		return Session{}, err
	}
	u, err := a.newLocalUser(r, model.RoleNormal)
	if err != nil {
		return Session{}, err
	}
	if err := a.users.CreateWithStudentProfile(ctx, &u, withStudentDefaults(prefs)); err != nil {
		return Session{}, createErr(err)
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventRegistered, UserID: u.ID, RoleID: int(u.Role)})
	return a.session(ctx, u, false)
}

// RegisterTutor creates a PendingTutor applicant with its tutor profile.
// The role only becomes Tutor once an admin approves the application.
func (a *Auth) RegisterTutor(ctx context.Context, r Registration, p model.TutorProfile) (Session, error) {
	if err := a.ensureEmailFree(ctx, r.Email); err != nil {
		return Session{}, err
	}
	u, err := a.newLocalUser(r, model.RolePendingTutor)
	if err != nil {
		return Session{}, err
	}
	if p.EjazaType == 0 {
		p.EjazaType = model.EjazaQuran
	}
	if p.Language == 0 {
		p.Language = model.LanguageArabic
	}
	p.IsAvailable = true
	if err := a.users.CreateWithTutorProfile(ctx, &u, p); err != nil {
		return Session{}, createErr(err)
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventTutorApplied, UserID: u.ID, RoleID: int(u.Role)})
	return a.session(ctx, u, false)
}

// withStudentDefaults fills unset preferences from DefaultStudentProfile.
// IsPaid and IsFirstTime are never client controlled.
func withStudentDefaults(p model.StudentProfile) model.StudentProfile {
	d := model.DefaultStudentProfile()
	if p.AgeGroup != 0 {
		d.AgeGroup = p.AgeGroup
	}
	if p.LevelAtQuran != 0 {
		d.LevelAtQuran = p.LevelAtQuran
	}
	if p.NumberPerWeek != 0 {
		d.NumberPerWeek = p.NumberPerWeek
	}
	if p.TimeForEverytime != 0 {
		d.TimeForEverytime = p.TimeForEverytime
	}
	if p.Language != 0 {
		d.Language = p.Language
	}
	if p.MethodForHefz != 0 {
		d.MethodForHefz = p.MethodForHefz
	}
	d.AvailableMinutes = p.AvailableMinutes
	return d
}

// Refresh exchanges a refresh token for a new access token.  The refresh
// token itself is left as is.
func (a *Auth) Refresh(ctx context.Context, raw string) (Session, error) {
	rt, err := a.tokens.Lookup(ctx, utils.HashRefreshRaw(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, Unauthorized(MsgInvalidRefresh)
	}
	if err != nil {
		return Session{}, Internal("Failed to refresh token", err)
	}
	if rt.Revoked() {
		return Session{}, Unauthorized(MsgInvalidRefresh)
	}
	if rt.Expired(a.now()) {
		return Session{}, Unauthorized(MsgRefreshExpired)
	}
	u, err := a.users.GetByID(ctx, rt.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, NotFound(MsgUserNotFound)
	}
	if err != nil {
		return Session{}, Internal("Failed to refresh token", err)
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventTokenRefreshed, UserID: u.ID})
	return a.session(ctx, u, false)
}

// RevokeRefresh revokes one refresh token.  Revoking an unknown or already
// revoked token is not an error.
func (a *Auth) RevokeRefresh(ctx context.Context, raw string) error {
	found, err := a.tokens.RevokeByHash(ctx, utils.HashRefreshRaw(raw), a.now())
	if err != nil {
		return Internal("Failed to revoke token", err)
	}
	if found {
		a.emit(ctx, queue.AuthEvent{Type: queue.EventTokensRevoked, Detail: "single"})
	}
	return nil
}

// LogoutAll revokes every active refresh token of a user.
func (a *Auth) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := a.tokens.RevokeAllForUser(ctx, userID, a.now())
	if err != nil {
		return 0, Internal("Failed to revoke tokens", err)
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventTokensRevoked, UserID: userID, Detail: fmt.Sprintf("all:%d", n)})
	logger.From(ctx).Info("refresh tokens revoked", logger.UserID(userID), zap.Int64("count", n))
	return n, nil
}

// Account is a user with whichever profile rows it has.
type Account struct {
	User    model.User
	Student *model.StudentProfile
	Tutor   *model.TutorProfile
}

// Me loads the caller's account.
func (a *Auth) Me(ctx context.Context, userID string) (Account, error) {
	u, err := a.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return Account{}, NotFound(MsgUserNotFound)
	}
	if err != nil {
		return Account{}, Internal("Failed to load user", err)
	}
	return a.account(ctx, u)
}

func (a *Auth) account(ctx context.Context, u model.User) (Account, error) {
	acc := Account{User: u}
	if u.StudentProfileID != nil {
		p, err := a.users.GetStudentProfile(ctx, *u.StudentProfileID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return Account{}, Internal("Failed to load user", err)
		}
		if err == nil {
			acc.Student = &p
		}
	}
	if u.TutorProfileID != nil {
		p, err := a.users.GetTutorProfile(ctx, *u.TutorProfileID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return Account{}, Internal("Failed to load user", err)
		}
		if err == nil {
			acc.Tutor = &p
		}
	}
	return acc, nil
}
