// Package queue defines the auth event stream carried over RabbitMQ: the
// payload, the publisher the services emit through, and the audit
// consumer that appends every event to a log file.
package queue

import "context"

// Event types.
const (
	EventRegistered     = "user.registered"
	EventTutorApplied   = "tutor.applied"
	EventLoginSucceeded = "login.succeeded"
	EventLoginFailed    = "login.failed"
	EventOtpSent        = "otp.sent"
	EventOtpVerified    = "otp.verified"
	EventOtpRejected    = "otp.rejected"
	EventPhoneLinked    = "phone.linked"
	EventOAuthLogin     = "oauth.login"
	EventOAuthLinked    = "oauth.linked"
	EventProfileDone    = "profile.completed"
	EventPasswordReset  = "password.reset"
	EventTokenRefreshed = "token.refreshed"
	EventTokensRevoked  = "tokens.revoked"
	EventTutorApproved  = "tutor.approved"
	EventTutorRejected  = "tutor.rejected"
	EventRoleChanged    = "role.changed"
)

// AuthEvent is published after every security relevant state change.  It
// never carries credential material; Subject is a masked phone or email.
type AuthEvent struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	RoleID     int    `json:"role_id,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Channel    string `json:"channel,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Detail     string `json:"detail,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// Sink receives events.  Emit must not block the request path.
type Sink interface {
	Emit(ctx context.Context, ev AuthEvent)
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev AuthEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, AuthEvent) {}
