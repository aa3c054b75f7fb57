package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ahlallah/ahl-allah-server/internal/handler"
	"github.com/ahlallah/ahl-allah-server/internal/metrics"
	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/oauth"
	"github.com/ahlallah/ahl-allah-server/internal/repository"
	"github.com/ahlallah/ahl-allah-server/internal/service"
	"github.com/ahlallah/ahl-allah-server/internal/utils"
)

// stubUsers serves a single account.  Methods the tests never reach are
// left to the embedded nil interface.
type stubUsers struct {
	service.UserStore
	user    model.User
	created []model.User
}

func (s *stubUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	if s.user.ID != "" && s.user.Email.Address == model.NormalizeEmail(email) {
		return s.user, nil
	}
	return model.User{}, repository.ErrNotFound
}

func (s *stubUsers) GetByProvider(context.Context, string, string) (model.User, error) {
	return model.User{}, repository.ErrNotFound
}

func (s *stubUsers) Create(_ context.Context, u *model.User) error {
	s.created = append(s.created, *u)
	return nil
}

func (s *stubUsers) Touch(context.Context, string, time.Time) error { return nil }

type stubTokens struct {
	service.TokenStore
	stored int
}

func (s *stubTokens) StoreRefresh(context.Context, string, string, time.Time) error {
	s.stored++
	return nil
}

type stubGoogle struct {
	id  model.FederatedIdentity
	err error
}

func (g stubGoogle) AuthURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (g stubGoogle) Exchange(context.Context, string) (model.FederatedIdentity, error) {
	return g.id, g.err
}

type env struct {
	e      *echo.Echo
	issuer *utils.Issuer
	users  *stubUsers
	tokens *stubTokens
	oauth  *handler.OAuthHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hash, err := utils.HashPassword("secret1", bcrypt.MinCost)
	require.NoError(t, err)

	issuer := utils.NewIssuer("test-secret", "ahl-allah", "ahl-allah-web", time.Hour)
	users := &stubUsers{user: model.User{
		ID:           "9b2f7c7e-4a53-4d69-9a0c-1f1f7d7a2b10",
		Email:        model.RealEmail("s@example.com"),
		PasswordHash: hash,
		Name:         "Aisha",
		Role:         model.RoleNormal,
		Country:      "Egypt",
		BirthYear:    1995,
		Gender:       "female",
	}}
	tokens := &stubTokens{}
	auth := service.New(service.Deps{Users: users, Tokens: tokens, Issuer: issuer})

	m := metrics.New()
	e := New(m)
	oh := &handler.OAuthHandler{Auth: auth, States: oauth.NewStateStore(time.Minute), FrontendURL: "https://app.example.com/"}
	RegisterRoutes(e, handler.Health{Checks: map[string]handler.Check{
		"mysql": func(context.Context) error { return nil },
	}}, m)
	RegisterAuth(e, handler.NewAuthHandler(auth), oh, issuer, nil)
	RegisterAdmin(e, handler.NewAdminHandler(auth), issuer)
	return &env{e: e, issuer: issuer, users: users, tokens: tokens, oauth: oh}
}

func (v *env) do(method, target, body, bearer string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if bearer != "" {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, r)
	return rec
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (v *env) token(t *testing.T, id string, role model.Role) string {
	t.Helper()
	at, err := v.issuer.Issue(id, "x@example.com", role)
	require.NoError(t, err)
	return at.Token
}

func TestUnknownRouteRendersEnvelope(t *testing.T) {
	v := newEnv(t)
	rec := v.do(http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.Equal(t, "Route not found", body.Message)
	assert.JSONEq(t, `{}`, string(body.Data))
}

func TestLoginValidationReportsFields(t *testing.T) {
	v := newEnv(t)
	rec := v.do(http.MethodPost, "/auth/login", `{"email":"not-an-email"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, handler.MsgValidation, body.Message)

	var fields []service.FieldError
	require.NoError(t, json.Unmarshal(body.Data, &fields))
	got := map[string]string{}
	for _, f := range fields {
		got[f.Field] = f.Tag
	}
	assert.Equal(t, map[string]string{"email": "email", "password": "required"}, got)

	rec = v.do(http.MethodPost, "/auth/login", `{"email":`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decode(t, rec).Message)
}

func TestLoginSuccessAndFailure(t *testing.T) {
	v := newEnv(t)
	rec := v.do(http.MethodPost, "/auth/login", `{"email":"S@example.com","password":"secret1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Login successful", body.Message)

	var data struct {
		Token        string           `json:"token"`
		RefreshToken string           `json:"refreshToken"`
		User         handler.UserView `json:"user"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Len(t, data.RefreshToken, 96)
	assert.Equal(t, v.users.user.ID, data.User.ID)
	assert.Equal(t, int(model.RoleNormal), data.User.RoleID)
	assert.Equal(t, 1, v.tokens.stored)

	id, err := v.issuer.Validate(data.Token)
	require.NoError(t, err)
	assert.Equal(t, v.users.user.ID, id.UserID)

	rec = v.do(http.MethodPost, "/auth/login", `{"email":"s@example.com","password":"wrong-one"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, service.MsgInvalidCredentials, decode(t, rec).Message)
}

func TestRefreshWithoutTokenIsUnauthorized(t *testing.T) {
	v := newEnv(t)
	rec := v.do(http.MethodPost, "/auth/token/refresh", `{}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, service.MsgInvalidRefresh, decode(t, rec).Message)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	v := newEnv(t)

	rec := v.do(http.MethodGet, "/admin/pending-mohafez", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = v.do(http.MethodGet, "/admin/pending-mohafez", "", v.token(t, "u-1", model.RoleNormal))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Insufficient permissions", decode(t, rec).Message)

	rec = v.do(http.MethodPut, "/admin/update-role/u-2", `{}`, v.token(t, "u-1", model.RolePendingTutor))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCompleteProfileForAnotherUserIsForbidden(t *testing.T) {
	v := newEnv(t)
	body := `{"userId":"0b6a4c1e-2f7d-4e8a-9c3b-5d6e7f8a9b0c","country":"Jordan","birthyear":2000,"gender":"male"}`

	rec := v.do(http.MethodPost, "/auth/complete-profile", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = v.do(http.MethodPost, "/auth/complete-profile", body, v.token(t, v.users.user.ID, model.RoleNormal))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, service.MsgProfileForbidden, decode(t, rec).Message)
}

func TestGoogleFlow(t *testing.T) {
	v := newEnv(t)

	rec := v.do(http.MethodGet, "/auth/google", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	v.oauth.Google = stubGoogle{id: model.FederatedIdentity{Provider: "google", ProviderID: "g-1", Email: "fed@example.com", Name: "Fed"}}
	rec = v.do(http.MethodGet, "/auth/google", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	// a state that was never issued
	rec = v.do(http.MethodGet, "/auth/google/callback?code=c&state=forged", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://app.example.com/auth/error?message=Authentication+failed", rec.Header().Get(echo.HeaderLocation))

	rec = v.do(http.MethodGet, "/auth/google/callback?code=c&state="+url.QueryEscape(state), "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err = url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "/auth/callback", loc.Path)
	q := loc.Query()
	assert.Equal(t, "google", q.Get("provider"))
	assert.Equal(t, "true", q.Get("needsProfileCompletion"))
	assert.Len(t, q.Get("refreshToken"), 96)
	id, err := v.issuer.Validate(q.Get("token"))
	require.NoError(t, err)
	require.Len(t, v.users.created, 1)
	assert.Equal(t, v.users.created[0].ID, id.UserID)

	// states are single use
	rec = v.do(http.MethodGet, "/auth/google/callback?code=c&state="+url.QueryEscape(state), "", "")
	assert.Contains(t, rec.Header().Get(echo.HeaderLocation), "/auth/error")

	v.oauth.Google = stubGoogle{err: errors.New("exchange failed")}
	rec = v.do(http.MethodGet, "/auth/google", "", "")
	loc, err = url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	rec = v.do(http.MethodGet, "/auth/google/callback?code=c&state="+url.QueryEscape(loc.Query().Get("state")), "", "")
	assert.Contains(t, rec.Header().Get(echo.HeaderLocation), "/auth/error")
}

func TestHealth(t *testing.T) {
	v := newEnv(t)
	rec := v.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec).Message)

	e := New(nil)
	RegisterRoutes(e, handler.Health{Checks: map[string]handler.Check{
		"mysql": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}}, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body.Message)
	assert.JSONEq(t, `{"mysql":"up","redis":"down"}`, string(body.Data))
}

func TestMetricsEndpoint(t *testing.T) {
	v := newEnv(t)
	v.do(http.MethodGet, "/healthz", "", "")
	rec := v.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# TYPE")
}
