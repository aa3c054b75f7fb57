package service

import (
	"context"
	"time"

	"github.com/ahlallah/ahl-allah-server/internal/config"
	"github.com/ahlallah/ahl-allah-server/internal/lock"
	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/notify"
	"github.com/ahlallah/ahl-allah-server/internal/queue"
	"github.com/ahlallah/ahl-allah-server/internal/repository"
	"github.com/ahlallah/ahl-allah-server/internal/utils"
)

// UserStore is the credential store.  *repository.UserRepo implements it.
type UserStore interface {
	GetByID(ctx context.Context, id string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	GetByProvider(ctx context.Context, provider, providerID string) (model.User, error)
	Create(ctx context.Context, u *model.User) error
	CreateWithStudentProfile(ctx context.Context, u *model.User, p model.StudentProfile) error
	CreateWithTutorProfile(ctx context.Context, u *model.User, p model.TutorProfile) error
	Touch(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, hash string) error
	SetPhone(ctx context.Context, id, phone string) error
	LinkProvider(ctx context.Context, id, provider, providerID, avatar string) error
	CompleteProfile(ctx context.Context, id string, upd repository.ProfileUpdate, p model.StudentProfile) error
	ListByRole(ctx context.Context, role model.Role) ([]model.User, error)
	UpdateRole(ctx context.Context, id string, role model.Role) error
	DeleteWithTutorProfile(ctx context.Context, id string) error
	GetTutorProfile(ctx context.Context, id uint64) (model.TutorProfile, error)
	GetStudentProfile(ctx context.Context, id uint64) (model.StudentProfile, error)
}

// TokenStore is the refresh token store.  *repository.TokenRepo implements it.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID, tokenHash string, exp time.Time) error
	Lookup(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	RevokeByHash(ctx context.Context, tokenHash string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

// OtpStore is the OTP ledger.  *repository.OtpRepo implements it.
type OtpStore interface {
	repository.OtpLedger
	InTx(ctx context.Context, fn func(repository.OtpLedger) error) error
}

// Deps wires the auth core.  Zero Now and NewID fall back to the wall
// clock and random UUIDs.
type Deps struct {
	Users  UserStore
	Tokens TokenStore
	Otps   OtpStore
	Issuer *utils.Issuer
	Mailer notify.Mailer
	SMS    notify.SMSSender
	Locker lock.Locker
	Events queue.Sink

	Policy         config.OtpPolicy
	RefreshTTLDays int
	BcryptCost     int

	Now   func() time.Time
	NewID func() string
}
