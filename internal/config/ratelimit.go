package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig drives the Redis token bucket placed in front of the
// unauthenticated /auth endpoints.  Every request draws from a bucket keyed by
// KeyStrategy; requests that name an email or phone also draw from a second,
// smaller bucket keyed by that normalized subject, so rotating client IPs
// does not buy more guesses against one account.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool

	// SubjectCapacity of zero turns the per-subject bucket off.
	SubjectCapacity       int
	SubjectRefillInterval time.Duration
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:               envBool("RATE_LIMIT_ENABLED", true),
		Capacity:              envInt("RATE_LIMIT_CAPACITY", 20),
		RefillTokens:          envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval:        envDur("RATE_LIMIT_REFILL_INTERVAL", 3*time.Second),
		TTL:                   envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:           envStr("RATE_LIMIT_KEY_STRATEGY", "ip_route"),
		Prefix:                envStr("RATE_LIMIT_PREFIX", "rl:auth"),
		Debug:                 envBool("RATE_LIMIT_DEBUG", false),
		SubjectCapacity:       envInt("RATE_LIMIT_SUBJECT_CAPACITY", 10),
		SubjectRefillInterval: envDur("RATE_LIMIT_SUBJECT_REFILL_INTERVAL", 30*time.Second),
	}
	return def.normalize()
}

// normalize clamps values so the Lua script never divides by zero and keys
// outlive at least a few refill intervals.
func (c RateLimitConfig) normalize() RateLimitConfig {
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	if c.SubjectCapacity < 0 {
		c.SubjectCapacity = 0
	}
	if c.SubjectRefillInterval <= 0 {
		c.SubjectRefillInterval = c.RefillInterval
	}
	minTTL := 5 * c.RefillInterval
	if s := 5 * c.SubjectRefillInterval; s > minTTL {
		minTTL = s
	}
	if c.TTL < minTTL {
		c.TTL = minTTL
	}
	return c
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
