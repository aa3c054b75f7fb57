package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ahlallah/ahl-allah-server/internal/config"
	"github.com/ahlallah/ahl-allah-server/internal/logger"
	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/service"
)

// MsgRateLimited is returned once a bucket is empty.
const MsgRateLimited = "Too many requests, please try again later"

// maxPeekBytes caps how much of a request body is read to find its subject.
const maxPeekBytes = 64 << 10

var limiterScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 and refill_tokens > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + (intervals * refill_tokens))
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		local until_next = interval_ms - (now_ms - last_refill)
		if until_next < 0 then until_next = 0 end
		retry_after_ms = until_next
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill, 'capacity', capacity)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// draw is the outcome of spending one token.
type draw struct {
	allowed   bool
	remaining int64
	retryMs   int64
}

type bucket struct {
	cfg config.RateLimitConfig
	rdb *redis.Client
}

func (b bucket) take(ctx context.Context, key string, capacity int, interval time.Duration) (draw, error) {
	vals, err := limiterScript.Run(ctx, b.rdb, []string{key},
		time.Now().UnixMilli(),
		capacity,
		b.cfg.RefillTokens,
		interval.Milliseconds(),
		int64(b.cfg.TTL/time.Second),
	).Result()
	if err != nil {
		return draw{}, err
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return draw{}, fmt.Errorf("ratelimit: unexpected script result %v", vals)
	}
	return draw{
		allowed:   asInt64(arr[0]) == 1,
		remaining: asInt64(arr[1]),
		retryMs:   asInt64(arr[2]),
	}, nil
}

// NewTokenBucket throttles requests with a token bucket kept in Redis, so
// every instance shares one budget per key.  A request that names an email
// or phone in its JSON body also spends from that subject's bucket.  Redis
// failures let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	b := bucket{cfg: cfg, rdb: rdb}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			log := logger.From(ctx)

			key := buildRateKey(cfg, c)
			res, err := b.take(ctx, key, cfg.Capacity, cfg.RefillInterval)
			if err != nil {
				log.Warn("ratelimit: redis error", zap.String("key", key), logger.Err(err))
				return next(c)
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.remaining, 10))
			if !res.allowed {
				return reject(c, cfg, key, res)
			}

			if subject := credentialSubject(c); subject != "" && cfg.SubjectCapacity > 0 {
				skey := subjectRateKey(cfg, c, subject)
				sres, err := b.take(ctx, skey, cfg.SubjectCapacity, cfg.SubjectRefillInterval)
				switch {
				case err != nil:
					log.Warn("ratelimit: redis error", zap.String("key", skey), logger.Err(err))
				case !sres.allowed:
					return reject(c, cfg, skey, sres)
				}
			}

			if cfg.Debug {
				c.Response().Header().Set("X-RateLimit-Key", key)
			}
			return next(c)
		}
	}
}

func reject(c echo.Context, cfg config.RateLimitConfig, key string, res draw) error {
	secs := int(math.Ceil(float64(res.retryMs) / 1000.0))
	if secs < 0 {
		secs = 0
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	if cfg.Debug {
		logger.From(c.Request().Context()).Debug("ratelimit: blocked",
			zap.String("key", key), zap.Int64("retry_ms", res.retryMs))
	}
	return service.TooManyRequests(MsgRateLimited)
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	parts := []string{cfg.Prefix}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := currentUserID(c)
	route := c.Request().Method + " " + c.Path()

	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}

// subjectRateKey keys a bucket by route and a digest of the normalized
// subject, so raw addresses never land in Redis.
func subjectRateKey(cfg config.RateLimitConfig, c echo.Context, subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return strings.Join([]string{cfg.Prefix, "subject", c.Path(), hex.EncodeToString(sum[:16])}, ":")
}

// credentialSubject returns "email:<addr>" or "phone:<e164>" for a JSON body
// that names one, or "" otherwise.  The body is restored for the handler.
func credentialSubject(c echo.Context) string {
	req := c.Request()
	if req.Body == nil || !strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return ""
	}
	buf, err := io.ReadAll(io.LimitReader(req.Body, maxPeekBytes))
	req.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), req.Body), req.Body}
	if err != nil {
		return ""
	}

	var body struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	}
	if json.Unmarshal(buf, &body) != nil {
		return ""
	}
	if email := model.NormalizeEmail(body.Email); email != "" {
		return "email:" + email
	}
	if phone, _ := service.NormalizePhone(body.Phone); phone != "" {
		return "phone:" + phone
	}
	return ""
}

func currentUserID(c echo.Context) string {
	if uid := userID(c); uid != "guest" {
		return uid
	}
	return "anon"
}
