package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ahlallah/ahl-allah-server/internal/config"
	"github.com/ahlallah/ahl-allah-server/internal/logger"
)

// SMSSender delivers a text message to an E.164 number.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// LogSMS writes messages to the log.  It is the development channel.
type LogSMS struct{ Log *zap.Logger }

func (s LogSMS) Send(_ context.Context, to, body string) error {
	s.Log.Info("sms (log channel)", zap.String("to", to), zap.String("message", body))
	return nil
}

// Twilio sends through the Twilio Messages REST API.  With WhatsApp set the
// message goes out on the WhatsApp channel of the same account.
type Twilio struct {
	AccountSID string
	AuthToken  string
	From       string
	WhatsApp   bool
	BaseURL    string
	Client     *http.Client
}

// NewTwilio builds a Twilio sender from the SMS settings.
func NewTwilio(cfg config.SMSConfig) *Twilio {
	return &Twilio{
		AccountSID: cfg.AccountSID,
		AuthToken:  cfg.AuthToken,
		From:       cfg.From,
		WhatsApp:   cfg.WhatsApp,
		BaseURL:    "https://api.twilio.com",
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Twilio) Send(ctx context.Context, to, body string) error {
	from, dest := t.From, to
	if t.WhatsApp {
		from, dest = "whatsapp:"+from, "whatsapp:"+to
	}
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", dest)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(t.BaseURL, "/"), t.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.AccountSID, t.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.From(ctx).Warn("twilio rejected message", logger.Phone(to), logger.Status(resp.StatusCode))
		return fmt.Errorf("twilio send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// NewSMS picks the configured SMS channel.
func NewSMS(cfg config.SMSConfig) SMSSender {
	if strings.EqualFold(cfg.Provider, "twilio") && cfg.AccountSID != "" && cfg.AuthToken != "" {
		return NewTwilio(cfg)
	}
	return LogSMS{Log: logger.Named("sms")}
}

// PhoneCodeSMS renders the verification text.
func PhoneCodeSMS(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes()))
}
