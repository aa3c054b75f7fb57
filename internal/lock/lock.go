// Package lock serializes work on a key (a phone number, an email) across
// every server instance.  The Redis implementation is used when Redis is
// reachable; Local is the single-process fallback.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTimeout is returned when the lock could not be taken before ctx ended.
var ErrTimeout = errors.New("lock: timed out waiting for key")

// Locker acquires an exclusive lease on key.  The lease expires after ttl
// even if release is never called.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// retryEvery is how often a contended key is polled.
const retryEvery = 25 * time.Millisecond

// releaseScript deletes the key only if it still holds our token, so an
// expired lease never frees someone else's lock.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Redis is a SET NX PX lease lock.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis returns a Redis locker namespacing keys under prefix.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (l *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := l.prefix + ":" + key
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		if ok {
			return func() {
				// the request context may already be done; release on a fresh one
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.rdb, []string{k}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-time.After(retryEvery):
		}
	}
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Local is an in-process Locker keyed by string.  ttl is ignored: a lease
// lasts until released.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local { return &Local{held: map[string]chan struct{}{}} }

func (l *Local) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-wait:
		}
	}
}

// New picks the Redis locker when rdb is non-nil and Local otherwise.
func New(rdb *redis.Client, prefix string) Locker {
	if rdb == nil {
		return NewLocal()
	}
	return NewRedis(rdb, prefix)
}
