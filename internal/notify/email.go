// Package notify delivers one-time codes by email and SMS.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"github.com/ahlallah/ahl-allah-server/internal/config"
	"github.com/ahlallah/ahl-allah-server/internal/logger"
)

// Mailer sends a single message.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	Host    string
	Port    int
	From    string
	User    string
	Pass    string
	TLSMode string // "auto" | "starttls" | "ssl" | "none"
}

// NewSMTPSender builds a sender from the SMTP settings.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	mode := cfg.TLSMode
	if mode == "" {
		mode = "auto"
	}
	return &SMTPSender{Host: cfg.Host, Port: cfg.Port, From: cfg.From, User: cfg.User, Pass: cfg.Pass, TLSMode: mode}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	log := logger.From(ctx).With(zap.String("component", "smtp"), logger.Email(to))

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	}

	if err := d.DialAndSend(m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Info("email sent")
	return nil
}

// LogMailer writes messages to the log instead of sending them.  It is
// the development channel.
type LogMailer struct{ Log *zap.Logger }

func (m LogMailer) Send(_ context.Context, to, subject, _, textBody string) error {
	m.Log.Info("email (log channel)", zap.String("to", to), zap.String("subject", subject), zap.String("body", textBody))
	return nil
}

// NewMailer returns the SMTP sender when a relay account is configured and
// the log channel otherwise.
func NewMailer(cfg config.SMTPConfig) Mailer {
	if cfg.Host == "" || cfg.User == "" || cfg.From == "" {
		return LogMailer{Log: logger.Named("mail")}
	}
	return NewSMTPSender(cfg)
}

// ResetCodeEmail renders the password reset message.
func ResetCodeEmail(code string, ttl time.Duration) (subject, html, text string) {
	mins := int(ttl.Minutes())
	subject = "Password Reset OTP"
	html = fmt.Sprintf(`<h2>Password Reset</h2>
<p>Your OTP for password reset is: <strong>%s</strong></p>
<p>This OTP will expire in %d minutes.</p>`, code, mins)
	text = fmt.Sprintf("Your OTP for password reset is: %s. It expires in %d minutes.", code, mins)
	return subject, html, text
}
