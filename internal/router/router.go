package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"                   // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware" // echo's stock request id and recover middleware

	"github.com/ahlallah/ahl-allah-server/internal/handler"    // handlers for every endpoint
	"github.com/ahlallah/ahl-allah-server/internal/metrics"    // prometheus registry and middleware
	"github.com/ahlallah/ahl-allah-server/internal/middleware" // JWT, role gate, rate limiting, request logging
	"github.com/ahlallah/ahl-allah-server/internal/model"      // role constants for the admin gate
	"github.com/ahlallah/ahl-allah-server/internal/utils"      // access token issuer
)

// New builds the Echo instance with the validator, the envelope error
// handler and the global middleware chain.  The order matters: metrics sit
// outside the request logger so they observe the status the error handler
// wrote, and Recover sits inside so a panic is rendered and logged like any
// other error.
func New(m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.ErrorHandler

	e.Use(echomw.RequestID())
	if m != nil {
		e.Use(m.Middleware())
	}
	e.Use(middleware.RequestLogger())
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("1M"))
	return e
}

// RegisterRoutes registers routes that do not belong to a feature group:
// the health check and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, health handler.Health, m *metrics.Metrics) {
	// Map the GET request at path "/healthz" to the Health handler.  This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service and its dependencies are up.
	e.GET("/healthz", health.Handle)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
}

// RegisterAuth registers all authentication-related routes under /auth.
// Credential endpoints share the rate limiter; the few that act on an
// existing session also require a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, o *handler.OAuthHandler, issuer *utils.Issuer, limiter echo.MiddlewareFunc) {
	if limiter == nil {
		limiter = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	// Route level middleware keeps the two kinds of /auth routes apart
	// without a second group claiming the same catch-all.
	g := e.Group("/auth")

	// Operations that do not require an existing session.  Each of these
	// handlers proves identity some other way (password, one-time code,
	// refresh token) and is throttled per client.
	g.POST("/login", a.Login, limiter)
	g.POST("/register", a.Register, limiter)
	g.POST("/register-mohafez", a.RegisterMohafez, limiter)
	g.POST("/forgot-password", a.ForgotPassword, limiter)
	g.POST("/verify-otp", a.VerifyOtp, limiter)
	g.POST("/reset-password", a.ResetPassword, limiter)
	g.POST("/phone/request-otp", a.RequestPhoneOtp, limiter)
	g.POST("/phone/verify-otp", a.VerifyPhoneOtp, limiter)
	g.POST("/token/refresh", a.RefreshToken, limiter)
	g.POST("/token/revoke", a.RevokeToken, limiter)
	g.POST("/link-oauth", a.LinkOAuth, limiter)

	// Provider redirect flows.  Apple posts its callback as a form.
	g.GET("/google", o.GoogleStart)
	g.GET("/google/callback", o.GoogleCallback)
	g.GET("/apple", o.AppleStart)
	g.POST("/apple/callback", o.AppleCallback)
	g.GET("/error", o.Error)

	// Routes that act on the caller's own account.
	jwt := middleware.JWTAuth(issuer)
	g.GET("/me", a.Me, jwt)
	g.GET("/success", o.Success, jwt)
	g.POST("/complete-profile", a.CompleteProfile, jwt)
	g.POST("/logout-all", a.LogoutAll, jwt)
}

// RegisterAdmin registers the tutor approval workflow.  Every route needs
// an admin access token.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, issuer *utils.Issuer) {
	g := e.Group("/admin", middleware.JWTAuth(issuer), middleware.RequireRole(model.RoleAdmin))
	g.GET("/pending-mohafez", h.PendingMohafez)
	g.PUT("/approve-mohafez/:id", h.ApproveMohafez)
	g.PUT("/reject-mohafez/:id", h.RejectMohafez)
	g.PUT("/update-role/:id", h.UpdateRole)
}
