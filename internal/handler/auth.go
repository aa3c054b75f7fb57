package handler

import (
	"context" // provides context with cancellation for service calls
	"time"    // timeouts for service calls

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/ahlallah/ahl-allah-server/internal/middleware" // caller identity set by JWTAuth
	"github.com/ahlallah/ahl-allah-server/internal/model"      // domain types
	"github.com/ahlallah/ahl-allah-server/internal/service"    // auth core
)

// requestTimeout bounds one request's work, including mail and SMS
// delivery.
const requestTimeout = 15 * time.Second

// AuthHandler exposes the auth core over /auth.
type AuthHandler struct {
	Auth *service.Auth
}

func NewAuthHandler(a *service.Auth) *AuthHandler {
	return &AuthHandler{Auth: a}
}

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// callerID returns the user id JWTAuth stored for this request.
func callerID(c echo.Context) (string, error) {
	id, ok := middleware.Identity(c)
	if !ok {
		return "", service.Unauthorized(middleware.MsgMissingToken)
	}
	return id.UserID, nil
}

// ----- DTOs -----

type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// personalFields is the part shared by both registration forms.
type personalFields struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
	Name      string `json:"name" validate:"required,max=255"`
	Country   string `json:"country" validate:"required,max=100"`
	City      string `json:"city" validate:"omitempty,max=100"`
	BirthYear int    `json:"birthyear" validate:"required,min=1900,max=2100"`
	Gender    string `json:"gender" validate:"required,max=100"`
}

func (p personalFields) registration() service.Registration {
	return service.Registration{
		Email:     p.Email,
		Password:  p.Password,
		Name:      p.Name,
		Country:   p.Country,
		City:      p.City,
		BirthYear: p.BirthYear,
		Gender:    p.Gender,
	}
}

// preferenceFields are the optional student preferences.
type preferenceFields struct {
	AvailableMinutes int `json:"availableMinutes" validate:"omitempty,min=0"`
	AgeGroup         int `json:"ageGroup" validate:"omitempty,oneof=1 2 3"`
	LevelAtQuran     int `json:"levelAtQuran" validate:"omitempty,min=1,max=30"`
	NumberPerWeek    int `json:"numberPerWeek" validate:"omitempty,min=1,max=7"`
	TimeForEverytime int `json:"timeForEverytime" validate:"omitempty,min=1,max=600"`
	Language         int `json:"language" validate:"omitempty,oneof=1 2 3"`
	MethodForHefz    int `json:"methodForHefz" validate:"omitempty,oneof=1 2 3"`
}

func (p preferenceFields) profile() model.StudentProfile {
	return model.StudentProfile{
		AvailableMinutes: p.AvailableMinutes,
		AgeGroup:         model.AgeGroup(p.AgeGroup),
		LevelAtQuran:     p.LevelAtQuran,
		NumberPerWeek:    p.NumberPerWeek,
		TimeForEverytime: p.TimeForEverytime,
		Language:         model.Language(p.Language),
		MethodForHefz:    model.HefzMethod(p.MethodForHefz),
	}
}

type registerReq struct {
	personalFields
	preferenceFields
}

type registerMohafezReq struct {
	personalFields
	ArabicName          string `json:"arabicName" validate:"omitempty,max=255"`
	Summery             string `json:"summery" validate:"required"`
	Ejaza               string `json:"ejaza" validate:"required"`
	MyEjazaEnum         int    `json:"myEjazaEnum" validate:"required,oneof=1 2 3"`
	Degree              int    `json:"degree" validate:"omitempty,min=0"`
	Language            int    `json:"language" validate:"omitempty,oneof=1 2 3"`
	PhoneNumber         string `json:"phoneNumber" validate:"omitempty,max=32"`
	WhatsappPhoneNumber string `json:"whatsappPhoneNumber" validate:"omitempty,max=32"`
}

type emailReq struct {
	Email string `json:"email" validate:"required,email"`
}

type verifyEmailOtpReq struct {
	Email string `json:"email" validate:"required,email"`
	Otp   string `json:"otp" validate:"required,len=6,numeric"`
}

type resetPasswordReq struct {
	Email       string `json:"email" validate:"required,email"`
	Otp         string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword string `json:"newPassword" validate:"required,min=6"`
}

type phoneOtpReq struct {
	Phone   string `json:"phone" validate:"required"`
	Purpose string `json:"purpose" validate:"omitempty,oneof=login link"`
}

type phoneVerifyReq struct {
	Phone        string `json:"phone" validate:"required"`
	Otp          string `json:"otp" validate:"required,len=6,numeric"`
	LinkToUserID string `json:"linkToUserId" validate:"omitempty,uuid"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken" validate:"required,hexadecimal"`
}

type completeProfileReq struct {
	UserID    string `json:"userId" validate:"omitempty,uuid"`
	Name      string `json:"name" validate:"omitempty,max=255"`
	Country   string `json:"country" validate:"required,max=100"`
	City      string `json:"city" validate:"omitempty,max=100"`
	BirthYear int    `json:"birthyear" validate:"required,min=1900,max=2100"`
	Gender    string `json:"gender" validate:"required,max=100"`
	preferenceFields
}

type linkOAuthReq struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	Provider   string `json:"provider" validate:"required,oneof=google apple"`
	ProviderID string `json:"providerId" validate:"required,max=255"`
	Avatar     string `json:"avatar" validate:"omitempty,url"`
}

// Login: verify the password and return an access and a refresh token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}
	return success(c, "Login successful", sessionData(s))
}

// Register: create a Normal user with its student profile.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.Auth.RegisterStudent(ctx, req.registration(), req.profile())
	if err != nil {
		return err
	}
	return success(c, "Registration successful", sessionData(s))
}

// RegisterMohafez: create a tutor applicant awaiting admin approval.
func (h *AuthHandler) RegisterMohafez(c echo.Context) error {
	var req registerMohafezReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.Auth.RegisterTutor(ctx, req.registration(), model.TutorProfile{
		ArabicName:          req.ArabicName,
		Summary:             req.Summery,
		Ejaza:               req.Ejaza,
		EjazaType:           model.EjazaType(req.MyEjazaEnum),
		Degree:              req.Degree,
		Language:            model.Language(req.Language),
		PhoneNumber:         req.PhoneNumber,
		WhatsappPhoneNumber: req.WhatsappPhoneNumber,
	})
	if err != nil {
		return err
	}
	return success(c, "Mohafez registration successful", sessionData(s))
}

// ForgotPassword: mail a reset code.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Auth.ForgotPassword(ctx, req.Email); err != nil {
		return err
	}
	return success(c, "OTP sent to your email", nil)
}

// VerifyOtp: check a reset code without using it.
func (h *AuthHandler) VerifyOtp(c echo.Context) error {
	var req verifyEmailOtpReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Auth.VerifyResetOtp(ctx, req.Email, req.Otp); err != nil {
		return err
	}
	return success(c, "OTP verified successfully", nil)
}

// ResetPassword: redeem a reset code and set the new password.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Auth.ResetPassword(ctx, req.Email, req.Otp, req.NewPassword); err != nil {
		return err
	}
	return success(c, "Password reset successfully", nil)
}

// RequestPhoneOtp: send a login or link code by SMS/WhatsApp.
func (h *AuthHandler) RequestPhoneOtp(c echo.Context) error {
	var req phoneOtpReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Auth.RequestPhoneOtp(ctx, req.Phone, model.OtpPurpose(req.Purpose)); err != nil {
		return err
	}
	return success(c, "OTP sent", nil)
}

// VerifyPhoneOtp: redeem a phone code for a session.
func (h *AuthHandler) VerifyPhoneOtp(c echo.Context) error {
	var req phoneVerifyReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.Auth.VerifyPhoneOtp(ctx, req.Phone, req.Otp, req.LinkToUserID)
	if err != nil {
		return err
	}
	msg := "Authenticated with phone"
	if req.LinkToUserID != "" && s.User.ID == req.LinkToUserID {
		msg = "Phone linked and authenticated"
	}
	return success(c, msg, sessionData(s))
}

// RefreshToken: exchange a refresh token for a new access token.  The
// refresh token itself is not rotated.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return service.Unauthorized(service.MsgInvalidRefresh)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.Auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return err
	}
	return success(c, "Token refreshed", echo.Map{"token": s.Token, "expiresAt": s.ExpiresAt})
}

// RevokeToken: revoke one refresh token.  Unknown tokens succeed too.
func (h *AuthHandler) RevokeToken(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Auth.RevokeRefresh(ctx, req.RefreshToken); err != nil {
		return err
	}
	return success(c, "Token revoked", nil)
}

// LogoutAll: revoke every refresh token of the caller.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	n, err := h.Auth.LogoutAll(ctx, uid)
	if err != nil {
		return err
	}
	return success(c, "Logged out from all sessions", echo.Map{"revoked": n})
}

// Me: the caller's account with its profiles.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	acc, err := h.Auth.Me(ctx, uid)
	if err != nil {
		return err
	}
	return success(c, "User retrieved successfully", echo.Map{
		"user":                   accountView(acc),
		"needsProfileCompletion": acc.User.NeedsProfileCompletion(),
	})
}

// CompleteProfile: fill the fields a federated or phone sign up skipped.
// The account is the caller's; a different body userId is refused.
func (h *AuthHandler) CompleteProfile(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	var req completeProfileReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.Auth.CompleteProfile(ctx, uid, service.ProfileCompletion{
		UserID:      req.UserID,
		Name:        req.Name,
		Country:     req.Country,
		City:        req.City,
		BirthYear:   req.BirthYear,
		Gender:      req.Gender,
		Preferences: req.profile(),
	})
	if err != nil {
		return err
	}
	return success(c, "Profile completed successfully", sessionData(s))
}

// LinkOAuth: attach a provider identity to a password account.
func (h *AuthHandler) LinkOAuth(c echo.Context) error {
	var req linkOAuthReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.Auth.LinkOAuth(ctx, service.LinkRequest{
		Email:      req.Email,
		Password:   req.Password,
		Provider:   req.Provider,
		ProviderID: req.ProviderID,
		Avatar:     req.Avatar,
	})
	if err != nil {
		return err
	}
	return success(c, "OAuth account linked successfully", sessionData(s))
}
