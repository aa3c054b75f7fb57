package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ahlallah/ahl-allah-server/internal/logger"
	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/oauth"
	"github.com/ahlallah/ahl-allah-server/internal/service"
)

// GoogleFlow is the Google redirect flow.  *oauth.Google implements it.
type GoogleFlow interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (model.FederatedIdentity, error)
}

// AppleFlow is the Apple redirect flow.  *oauth.Apple implements it.
type AppleFlow interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, form oauth.CallbackForm) (model.FederatedIdentity, error)
}

// OAuthHandler runs the provider redirect flows and hands the resulting
// session to the frontend.  A nil flow means the provider is not
// configured and its routes answer 404.
type OAuthHandler struct {
	Auth        *service.Auth
	Google      GoogleFlow
	Apple       AppleFlow
	States      *oauth.StateStore
	FrontendURL string
}

const msgProviderDisabled = "OAuth provider not configured"

// GoogleStart redirects the browser to Google's consent screen.
func (h *OAuthHandler) GoogleStart(c echo.Context) error {
	if h.Google == nil {
		return service.NotFound(msgProviderDisabled)
	}
	state, err := h.States.Issue("google")
	if err != nil {
		return service.Internal(service.MsgAuthFailed, err)
	}
	return c.Redirect(http.StatusFound, h.Google.AuthURL(state))
}

// GoogleCallback receives ?code&state from Google.
func (h *OAuthHandler) GoogleCallback(c echo.Context) error {
	if h.Google == nil {
		return service.NotFound(msgProviderDisabled)
	}
	if c.QueryParam("error") != "" || !h.States.Consume(c.QueryParam("state"), "google") {
		return h.failRedirect(c, "google", nil)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	id, err := h.Google.Exchange(ctx, c.QueryParam("code"))
	if err != nil {
		return h.failRedirect(c, "google", err)
	}
	return h.finish(ctx, c, id)
}

// AppleStart redirects the browser to Apple's consent screen.
func (h *OAuthHandler) AppleStart(c echo.Context) error {
	if h.Apple == nil {
		return service.NotFound(msgProviderDisabled)
	}
	state, err := h.States.Issue("apple")
	if err != nil {
		return service.Internal(service.MsgAuthFailed, err)
	}
	return c.Redirect(http.StatusFound, h.Apple.AuthURL(state))
}

// AppleCallback receives Apple's form_post.
func (h *OAuthHandler) AppleCallback(c echo.Context) error {
	if h.Apple == nil {
		return service.NotFound(msgProviderDisabled)
	}
	var form oauth.CallbackForm
	if err := c.Bind(&form); err != nil {
		return h.failRedirect(c, "apple", err)
	}
	if form.Error != "" || !h.States.Consume(form.State, "apple") {
		return h.failRedirect(c, "apple", nil)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	id, err := h.Apple.Exchange(ctx, form)
	if err != nil {
		return h.failRedirect(c, "apple", err)
	}
	return h.finish(ctx, c, id)
}

// finish signs the identity in and redirects to the frontend callback page
// with the session in the query string.
func (h *OAuthHandler) finish(ctx context.Context, c echo.Context, id model.FederatedIdentity) error {
	s, err := h.Auth.FederatedLogin(ctx, id)
	if err != nil {
		return h.failRedirect(c, id.Provider, err)
	}
	q := url.Values{}
	q.Set("token", s.Token)
	q.Set("refreshToken", s.RefreshToken)
	q.Set("provider", id.Provider)
	if s.NeedsProfileCompletion {
		q.Set("needsProfileCompletion", "true")
	}
	return c.Redirect(http.StatusFound, h.frontend("/auth/callback")+"?"+q.Encode())
}

func (h *OAuthHandler) failRedirect(c echo.Context, provider string, err error) error {
	if err != nil {
		logger.From(c.Request().Context()).Warn("oauth sign in failed", logger.Provider(provider), logger.Err(err))
	}
	return c.Redirect(http.StatusFound, h.errorURL())
}

func (h *OAuthHandler) frontend(path string) string {
	return strings.TrimRight(h.FrontendURL, "/") + path
}

func (h *OAuthHandler) errorURL() string {
	return h.frontend("/auth/error") + "?" + url.Values{"message": {service.MsgAuthFailed}}.Encode()
}

// Success reports the signed in caller after the frontend picked the token
// up from the callback redirect.
func (h *OAuthHandler) Success(c echo.Context) error {
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
	return success(c, "oauth authentication successful", echo.Map{
		"user":                   accountView(acc),
		"needsProfileCompletion": acc.User.NeedsProfileCompletion(),
	})
}

// Error sends the browser to the frontend error page.
func (h *OAuthHandler) Error(c echo.Context) error {
	return c.Redirect(http.StatusFound, h.errorURL())
}
