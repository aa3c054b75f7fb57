package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

// DurationMs logs a duration as whole milliseconds.
func DurationMs(d time.Duration) zap.Field { return zap.Int64("duration_ms", d.Milliseconds()) }

// Auth

func UserID(v string) zap.Field   { return zap.String("user_id", v) }
func Provider(v string) zap.Field { return zap.String("provider", v) }
func Purpose(v string) zap.Field  { return zap.String("purpose", v) }

// Phone logs a phone number with all but the last four digits masked.
func Phone(v string) zap.Field { return zap.String("phone", Mask(v, 4)) }

// Email logs an address with the local part masked.
func Email(v string) zap.Field {
	for i := 0; i < len(v); i++ {
		if v[i] == '@' {
			return zap.String("email", Mask(v[:i], 1)+v[i:])
		}
	}
	return zap.String("email", Mask(v, 1))
}

// Mask replaces all but the last keep characters of s with '*'.
func Mask(s string, keep int) string {
	if len(s) <= keep {
		return s
	}
	b := []byte(s)
	for i := 0; i < len(b)-keep; i++ {
		b[i] = '*'
	}
	return string(b)
}

// Err is zap.Error under a shorter name.
func Err(err error) zap.Field { return zap.Error(err) }
