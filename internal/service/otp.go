package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/ahlallah/ahl-allah-server/internal/lock"
	"github.com/ahlallah/ahl-allah-server/internal/logger"
	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/notify"
	"github.com/ahlallah/ahl-allah-server/internal/queue"
	"github.com/ahlallah/ahl-allah-server/internal/repository"
	"github.com/ahlallah/ahl-allah-server/internal/utils"
)

const (
	MsgInvalidPhone     = "Invalid phone number"
	MsgNoActiveOtp      = "No active OTP found"
	MsgOtpExpired       = "OTP expired"
	MsgInvalidOtp       = "Invalid OTP"
	MsgMaxAttempts      = "Maximum verification attempts reached"
	MsgResendLimit      = "Resend limit reached"
	MsgResendTooSoon    = "Please wait before requesting another OTP"
	MsgPhoneLinked      = "Phone already linked to another account"
	MsgFailedToSendOtp  = "Failed to send OTP"
	MsgFailedToSendMail = "Failed to send OTP email"
)

// lockTTL bounds how long a crashed request can hold a subject's lock.
const lockTTL = 10 * time.Second

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// NormalizePhone strips separators and returns the number in E.164 form.
// A missing leading '+' is added.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch r {
		case ' ', '-', '(', ')', '.':
			continue
		}
		b.WriteRune(r)
	}
	p := b.String()
	if p != "" && p[0] != '+' {
		p = "+" + p
	}
	return p, e164.MatchString(p)
}

// withSubjectLock serializes OTP work on one phone or address across
// instances.
func (a *Auth) withSubjectLock(ctx context.Context, channel model.OtpChannel, subject string, fn func() error) error {
	lctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	release, err := a.locker.Acquire(lctx, "otp:"+string(channel)+":"+subject, lockTTL)
	if errors.Is(err, lock.ErrTimeout) {
		return TooManyRequests(MsgResendTooSoon)
	}
	if err != nil {
		return Internal("Failed to request OTP", err)
	}
	defer release()
	return fn()
}

// issueChallenge applies the resend rules to subject and stores a fresh
// code.  It returns the plaintext code for delivery.  The resend ceiling
// holds for the latest unconsumed challenge even after it expires; only a
// successful verification clears it.  A live challenge of the same purpose
// is updated in place so its attempt counter carries over; anything else
// gets a new row, which supersedes older ones.
func (a *Auth) issueChallenge(ctx context.Context, channel model.OtpChannel, subject string, purpose model.OtpPurpose, ttl time.Duration) (string, error) {
	var code string
	err := a.otps.InTx(ctx, func(l repository.OtpLedger) error {
		now := a.now()
		existing, err := l.LatestActive(ctx, channel, subject)
		found := err == nil
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if found && existing.ResendCount >= a.d.Policy.MaxResends {
			return TooManyRequests(MsgResendLimit)
		}
		if found && now.Sub(existing.LastSentAt) < a.d.Policy.ResendInterval {
			return TooManyRequests(MsgResendTooSoon)
		}

		if code, err = utils.GenerateCode(); err != nil {
			return err
		}
		hash := utils.HashCode(code)
		if found && !existing.Expired(now) && existing.Purpose == purpose {
			return l.Resend(ctx, existing.ID, hash, purpose, now.Add(ttl), now)
		}
		return l.Insert(ctx, &model.OtpChallenge{
			Channel:    channel,
			Subject:    subject,
			CodeHash:   hash,
			Purpose:    purpose,
			ExpiresAt:  now.Add(ttl),
			LastSentAt: now,
			CreatedAt:  now,
		})
	})
	if err != nil {
		if KindOf(err) != KindInternal {
			return "", err
		}
		return "", Internal("Failed to request OTP", err)
	}
	return code, nil
}

// checkCode verifies code against the subject's latest challenge.  A
// mismatch burns one attempt.  With consume set a match is terminal.
func (a *Auth) checkCode(ctx context.Context, channel model.OtpChannel, subject, code string, consume bool) (model.OtpChallenge, error) {
	c, err := a.otps.LatestActive(ctx, channel, subject)
	if errors.Is(err, repository.ErrNotFound) {
		return model.OtpChallenge{}, Validation(MsgNoActiveOtp)
	}
	if err != nil {
		return model.OtpChallenge{}, Internal("Failed to verify OTP", err)
	}
	if c.Expired(a.now()) {
		return model.OtpChallenge{}, Validation(MsgOtpExpired)
	}
	if c.AttemptsUsed >= a.d.Policy.MaxAttempts {
		return model.OtpChallenge{}, TooManyRequests(MsgMaxAttempts)
	}
	if !utils.CodeMatches(c.CodeHash, code) {
		if err := a.otps.IncrementAttempts(ctx, c.ID); err != nil {
			return model.OtpChallenge{}, Internal("Failed to verify OTP", err)
		}
		a.emit(ctx, queue.AuthEvent{Type: queue.EventOtpRejected, Channel: string(channel), Subject: maskSubject(channel, subject)})
		return model.OtpChallenge{}, Validation(MsgInvalidOtp)
	}
	if consume {
		if err := a.otps.Consume(ctx, c.ID); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return model.OtpChallenge{}, Validation(MsgNoActiveOtp)
			}
			return model.OtpChallenge{}, Internal("Failed to verify OTP", err)
		}
		c.Consumed = true
	}
	return c, nil
}

func maskSubject(channel model.OtpChannel, subject string) string {
	if channel == model.ChannelPhone {
		return logger.Mask(subject, 4)
	}
	if i := strings.IndexByte(subject, '@'); i > 0 {
		return logger.Mask(subject[:i], 1) + subject[i:]
	}
	return logger.Mask(subject, 1)
}

// RequestPhoneOtp sends a login or link code to a phone number.  Requests
// for one number are serialized.  When delivery fails the challenge is
// kept so the caller can retry through the resend path.
func (a *Auth) RequestPhoneOtp(ctx context.Context, rawPhone string, purpose model.OtpPurpose) error {
	phone, ok := NormalizePhone(rawPhone)
	if !ok {
		return Validation(MsgInvalidPhone)
	}
	if purpose != model.PurposeLink {
		purpose = model.PurposeLogin
	}
	ttl := a.d.Policy.PhoneTTL
	var code string
	err := a.withSubjectLock(ctx, model.ChannelPhone, phone, func() (err error) {
		code, err = a.issueChallenge(ctx, model.ChannelPhone, phone, purpose, ttl)
		return err
	})
	if err != nil {
		return err
	}
	if err := a.d.SMS.Send(ctx, phone, notify.PhoneCodeSMS(code, ttl)); err != nil {
		logger.From(ctx).Error("otp sms delivery failed", logger.Phone(phone), logger.Err(err))
		return Internal(MsgFailedToSendOtp, err)
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventOtpSent, Channel: string(model.ChannelPhone),
		Subject: maskSubject(model.ChannelPhone, phone), Detail: string(purpose)})
	return nil
}

// VerifyPhoneOtp redeems a phone code.  A link challenge presented with a
// target user attaches the phone to that user; anything else signs in by
// phone, creating a phone-only account on first use.  Both issue an
// access and a refresh token.
func (a *Auth) VerifyPhoneOtp(ctx context.Context, rawPhone, code, linkToUserID string) (Session, error) {
	phone, ok := NormalizePhone(rawPhone)
	if !ok {
		return Session{}, Validation(MsgInvalidPhone)
	}
	var c model.OtpChallenge
	err := a.withSubjectLock(ctx, model.ChannelPhone, phone, func() (err error) {
		c, err = a.checkCode(ctx, model.ChannelPhone, phone, code, true)
		return err
	})
	if err != nil {
		return Session{}, err
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventOtpVerified, Channel: string(model.ChannelPhone),
		Subject: maskSubject(model.ChannelPhone, phone), Detail: string(c.Purpose)})

	if c.Purpose == model.PurposeLink && linkToUserID != "" {
		return a.linkPhone(ctx, phone, linkToUserID)
	}
	return a.phoneLogin(ctx, phone)
}

func (a *Auth) linkPhone(ctx context.Context, phone, userID string) (Session, error) {
	u, err := a.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, NotFound(MsgUserNotFound)
	}
	if err != nil {
		return Session{}, Internal("Failed to verify OTP", err)
	}
	holder, err := a.users.GetByPhone(ctx, phone)
	switch {
	case err == nil && holder.ID != u.ID:
		return Session{}, Conflict(MsgPhoneLinked)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return Session{}, Internal("Failed to verify OTP", err)
	}
	if err := a.users.SetPhone(ctx, u.ID, phone); err != nil {
		if errors.Is(err, repository.ErrPhoneExists) {
			return Session{}, Conflict(MsgPhoneLinked)
		}
		return Session{}, Internal("Failed to verify OTP", err)
	}
	u.Phone, u.PhoneVerified = phone, true
	a.emit(ctx, queue.AuthEvent{Type: queue.EventPhoneLinked, UserID: u.ID, Subject: maskSubject(model.ChannelPhone, phone)})
	return a.session(ctx, u, true)
}

func (a *Auth) phoneLogin(ctx context.Context, phone string) (Session, error) {
	u, err := a.users.GetByPhone(ctx, phone)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		now := a.now()
		u = model.User{
			ID:             a.newID(),
			Email:          model.PlaceholderEmail(phone, "phone.local"),
			Name:           "Phone User",
			Role:           model.RoleNormal,
			Phone:          phone,
			PhoneVerified:  true,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		if err := a.users.Create(ctx, &u); err != nil {
			return Session{}, createErr(err)
		}
		a.emit(ctx, queue.AuthEvent{Type: queue.EventRegistered, UserID: u.ID, RoleID: int(u.Role), Channel: string(model.ChannelPhone)})
	case err != nil:
		return Session{}, Internal("Failed to verify OTP", err)
	case !u.PhoneVerified:
		if err := a.users.SetPhone(ctx, u.ID, phone); err != nil {
			return Session{}, Internal("Failed to verify OTP", err)
		}
		u.PhoneVerified = true
	}
	a.touch(ctx, &u)
	s, err := a.session(ctx, u, true)
	if err != nil {
		return Session{}, err
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventLoginSucceeded, UserID: u.ID, RoleID: int(u.Role), Channel: string(model.ChannelPhone)})
	return s, nil
}

// resetTarget resolves the account a reset code is for.  Placeholder
// addresses are never mailed, so they count as unknown.
func (a *Auth) resetTarget(ctx context.Context, email string) (model.User, error) {
	u, err := a.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.Email.Reachable()) {
		return model.User{}, NotFound(MsgUserNotFound)
	}
	if err != nil {
		return model.User{}, Internal("Failed to process forgot password request", err)
	}
	return u, nil
}

// ForgotPassword mails a password reset code.
func (a *Auth) ForgotPassword(ctx context.Context, email string) error {
	u, err := a.resetTarget(ctx, email)
	if err != nil {
		return err
	}
	addr := u.Email.Address
	ttl := a.d.Policy.EmailTTL
	var code string
	err = a.withSubjectLock(ctx, model.ChannelEmail, addr, func() (err error) {
		code, err = a.issueChallenge(ctx, model.ChannelEmail, addr, model.PurposeReset, ttl)
		return err
	})
	if err != nil {
		return err
	}
	subject, html, text := notify.ResetCodeEmail(code, ttl)
	if err := a.d.Mailer.Send(ctx, addr, subject, html, text); err != nil {
		logger.From(ctx).Error("reset email delivery failed", logger.Email(addr), logger.Err(err))
		return Internal(MsgFailedToSendMail, err)
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventOtpSent, UserID: u.ID, Channel: string(model.ChannelEmail),
		Subject: maskSubject(model.ChannelEmail, addr), Detail: string(model.PurposeReset)})
	return nil
}

// VerifyResetOtp checks a reset code without using it up.
func (a *Auth) VerifyResetOtp(ctx context.Context, email, code string) error {
	u, err := a.resetTarget(ctx, email)
	if err != nil {
		return err
	}
	return a.withSubjectLock(ctx, model.ChannelEmail, u.Email.Address, func() error {
		_, err := a.checkCode(ctx, model.ChannelEmail, u.Email.Address, code, false)
		return err
	})
}

// ResetPassword redeems a reset code and sets a new password.  Every
// refresh token of the account is revoked.
func (a *Auth) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < utils.MinPasswordLength {
		return Validation(MsgPasswordTooShort)
	}
	u, err := a.resetTarget(ctx, email)
	if err != nil {
		return err
	}
	err = a.withSubjectLock(ctx, model.ChannelEmail, u.Email.Address, func() error {
		_, err := a.checkCode(ctx, model.ChannelEmail, u.Email.Address, code, true)
		return err
	})
	if err != nil {
		return err
	}
	hash, err := utils.HashPassword(newPassword, a.d.BcryptCost)
	if err != nil {
		return Internal("Failed to reset password", err)
	}
	if err := a.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return Internal("Failed to reset password", err)
	}
	if _, err := a.tokens.RevokeAllForUser(ctx, u.ID, a.now()); err != nil {
		logger.From(ctx).Warn("revoke after reset failed", logger.UserID(u.ID), logger.Err(err))
	}
	a.emit(ctx, queue.AuthEvent{Type: queue.EventPasswordReset, UserID: u.ID})
	return nil
}
