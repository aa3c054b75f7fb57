package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"time"    // time parses token and OTP lifetimes
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The value is built once in main and passed down
// to the token issuer, the message senders and the services; nothing below
// cmd/ reads the environment on its own.
type Config struct {
	Env            string        // application environment (e.g. "dev", "prod")
	Port           string        // HTTP port to listen on
	DBUser         string        // database username
	DBPass         string        // database password (optional)
	DBHost         string        // database host address
	DBPort         string        // database port number
	DBName         string        // database name
	JWTSecret      string        // secret used to sign JWTs
	JWTIssuer      string        // iss claim stamped on and required of access tokens
	JWTAudience    string        // aud claim stamped on and required of access tokens
	AccessTTL      time.Duration // access token lifetime
	RefreshTTLDays int           // refresh token time‑to‑live in days
	BcryptCost     int           // bcrypt cost for password hashing
	FrontendURL    string        // base URL OAuth callbacks redirect to
	LogLevel       string        // zap level: debug, info, warn, error
	RabbitURL      string        // AMQP URL for the auth event stream (empty disables it)
	AuditLogPath   string        // file the audit consumer appends events to

	OTP    OtpPolicy
	SMTP   SMTPConfig
	SMS    SMSConfig
	Google GoogleConfig
	Apple  AppleConfig
}

// OtpPolicy bounds the one-time-code flows.
type OtpPolicy struct {
	PhoneTTL       time.Duration // lifetime of a phone code
	EmailTTL       time.Duration // lifetime of a password reset code
	ResendInterval time.Duration // minimum gap between two sends to the same phone
	MaxResends     int           // resend ceiling per challenge
	MaxAttempts    int           // failed verification ceiling per challenge
}

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host    string
	Port    int
	User    string
	Pass    string
	From    string
	TLSMode string // "auto" | "starttls" | "ssl" | "none"
}

// SMSConfig selects and configures the SMS/WhatsApp channel.
type SMSConfig struct {
	Provider   string // "log" or "twilio"
	AccountSID string
	AuthToken  string
	From       string
	WhatsApp   bool
}

// GoogleConfig holds the OAuth client for Google sign in.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// AppleConfig holds the Sign in with Apple service settings.
type AppleConfig struct {
	ClientID    string
	TeamID      string
	KeyID       string
	PrivateKey  string
	CallbackURL string
}

// Enabled reports whether every Google setting is present.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.CallbackURL != ""
}

// Enabled reports whether every Apple setting is present.
func (a AppleConfig) Enabled() bool {
	return a.ClientID != "" && a.TeamID != "" && a.KeyID != "" && a.PrivateKey != "" && a.CallbackURL != ""
}

// DefaultOtpPolicy returns the ceilings the auth flows are specified with.
func DefaultOtpPolicy() OtpPolicy {
	return OtpPolicy{
		PhoneTTL:       5 * time.Minute,
		EmailTTL:       10 * time.Minute,
		ResendInterval: 60 * time.Second,
		MaxResends:     3,
		MaxAttempts:    5,
	}
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	otp := DefaultOtpPolicy()
	otp.PhoneTTL = envDur("OTP_PHONE_TTL", otp.PhoneTTL)
	otp.EmailTTL = envDur("OTP_EMAIL_TTL", otp.EmailTTL)
	otp.ResendInterval = envDur("OTP_RESEND_INTERVAL", otp.ResendInterval)
	otp.MaxResends = envInt("OTP_MAX_RESENDS", otp.MaxResends)
	otp.MaxAttempts = envInt("OTP_MAX_ATTEMPTS", otp.MaxAttempts)

	return Config{
		Env:            must("APP_ENV"),                                 // environment (dev/test/prod)
		Port:           must("APP_PORT"),                                // port to bind the HTTP server
		DBUser:         must("DB_USER"),                                 // database user
		DBPass:         os.Getenv("DB_PASS"),                            // database password (empty allowed)
		DBHost:         must("DB_HOST"),                                 // database host
		DBPort:         must("DB_PORT"),                                 // database port
		DBName:         must("DB_NAME"),                                 // database name
		JWTSecret:      must("JWT_SECRET"),                              // secret used for signing JWTs
		JWTIssuer:      envStr("JWT_ISSUER", "http://localhost:60772"),  // issuer claim
		JWTAudience:    envStr("JWT_AUDIENCE", "http://localhost:4200"), // audience claim
		AccessTTL:      envDur("JWT_EXPIRES_IN", 7*24*time.Hour),        // access token lifetime
		RefreshTTLDays: envInt("REFRESH_TOKEN_EXPIRES_IN_DAYS", 30),     // TTL for refresh tokens in days
		BcryptCost:     envInt("BCRYPT_COST", 12),                       // bcrypt cost factor
		FrontendURL:    envStr("FRONTEND_URL", "http://localhost:4200"),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		RabbitURL:      rabbitURL(),
		AuditLogPath:   envStr("AUDIT_LOG_PATH", "logs/auth_audit.log"),
		OTP:            otp,
		SMTP: SMTPConfig{
			Host:    envStr("EMAIL_SMTP_SERVER", "smtp.gmail.com"),
			Port:    envInt("EMAIL_PORT", 465),
			User:    os.Getenv("EMAIL_USERNAME"),
			Pass:    os.Getenv("EMAIL_PASSWORD"),
			From:    os.Getenv("EMAIL_FROM"),
			TLSMode: envStr("EMAIL_TLS_MODE", "ssl"),
		},
		SMS: SMSConfig{
			Provider:   envStr("SMS_PROVIDER", "log"),
			AccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
			From:       os.Getenv("SMS_FROM"),
			WhatsApp:   envBool("SMS_WHATSAPP", false),
		},
		Google: GoogleConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			CallbackURL:  os.Getenv("GOOGLE_CALLBACK_URL"),
		},
		Apple: AppleConfig{
			ClientID:    os.Getenv("APPLE_CLIENT_ID"),
			TeamID:      os.Getenv("APPLE_TEAM_ID"),
			KeyID:       os.Getenv("APPLE_KEY_ID"),
			PrivateKey:  os.Getenv("APPLE_PRIVATE_KEY"),
			CallbackURL: os.Getenv("APPLE_CALLBACK_URL"),
		},
	}
}

func rabbitURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
