package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ahlallah/ahl-allah-server/internal/logger"
	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/service"
)

// Envelope is the body of every JSON response, success or failure.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// respond writes an envelope.  A nil data renders as an empty object.
func respond(c echo.Context, status int, msg string, data any) error {
	if data == nil {
		data = echo.Map{}
	}
	return c.JSON(status, Envelope{Status: status, Message: msg, Data: data})
}

func success(c echo.Context, msg string, data any) error {
	return respond(c, http.StatusOK, msg, data)
}

// ErrorHandler replaces echo's default so that service errors, routing
// errors, recovered panics and anything unexpected all render the envelope.
// Internal causes are logged, never written to the client.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, msg, data := classify(err)
	if status >= http.StatusInternalServerError {
		logger.From(c.Request().Context()).Error("request failed", logger.Status(status), logger.Err(err))
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = respond(c, status, msg, data)
}

func classify(err error) (int, string, any) {
	var se *service.Error
	if errors.As(err, &se) {
		if len(se.Fields) > 0 {
			return se.Kind.HTTPStatus(), se.Message, se.Fields
		}
		return se.Kind.HTTPStatus(), se.Message, nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusNotFound:
			return he.Code, "Route not found", nil
		case http.StatusInternalServerError:
			return he.Code, "Internal server error", nil
		}
		if m, ok := he.Message.(string); ok && m != "" {
			return he.Code, m, nil
		}
		return he.Code, http.StatusText(he.Code), nil
	}
	return http.StatusInternalServerError, "Internal server error", nil
}

// UserView is the public shape of a user.  Placeholder addresses are
// reported as such so clients never offer them for mail.
type UserView struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	EmailPlaceholder bool   `json:"emailPlaceholder,omitempty"`
	IsEmailVerified  bool   `json:"isEmailVerified"`
	Name             string `json:"name"`
	RoleID           int    `json:"roleId"`
	Country          string `json:"country,omitempty"`
	City             string `json:"city,omitempty"`
	BirthYear        int    `json:"birthyear,omitempty"`
	Age              int    `json:"age,omitempty"`
	Gender           string `json:"gender,omitempty"`
	Phone            string `json:"phone,omitempty"`
	PhoneVerified    bool   `json:"phoneVerified"`
	Provider         string `json:"provider,omitempty"`
	Avatar           string `json:"avatar,omitempty"`

	NormalUser  *model.StudentProfile `json:"normalUser,omitempty"`
	MohafezUser *model.TutorProfile   `json:"mohafezUser,omitempty"`
}

func userView(u model.User) UserView {
	return UserView{
		ID:               u.ID,
		Email:            u.Email.Address,
		EmailPlaceholder: u.Email.Placeholder,
		IsEmailVerified:  u.EmailVerified,
		Name:             u.Name,
		RoleID:           int(u.Role),
		Country:          u.Country,
		City:             u.City,
		BirthYear:        u.BirthYear,
		Age:              u.Age,
		Gender:           u.Gender,
		Phone:            u.Phone,
		PhoneVerified:    u.PhoneVerified,
		Provider:         u.Provider,
		Avatar:           u.Avatar,
	}
}

func accountView(a service.Account) UserView {
	v := userView(a.User)
	v.NormalUser, v.MohafezUser = a.Student, a.Tutor
	return v
}

// sessionData renders a session.  refreshToken and needsProfileCompletion
// are only present when meaningful.
func sessionData(s service.Session) echo.Map {
	m := echo.Map{
		"token":     s.Token,
		"expiresAt": s.ExpiresAt,
		"user":      userView(s.User),
	}
	if s.RefreshToken != "" {
		m["refreshToken"] = s.RefreshToken
	}
	if s.NeedsProfileCompletion {
		m["needsProfileCompletion"] = true
	}
	return m
}
