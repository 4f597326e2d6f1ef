package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrNotAcquired is returned when another holder kept the lock for the
// whole wait period
var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes work on a single booking across processes
type Locker interface {
	// Acquire blocks until the lock is held, the wait elapses or ctx ends.
	// The returned release func is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// BookingKey is the lock key used for booking confirmation
func BookingKey(bookingID string) string {
	return "booking:lock:" + bookingID
}

// releaseScript deletes the key only if we still own it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a SET NX PX lock with an owner token
type RedisLocker struct {
	client    *redis.Client
	ttl       time.Duration
	wait      time.Duration
	retryStep time.Duration
	logger    *logrus.Logger
}

// NewRedisClient parses url and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisLocker creates a locker. ttl bounds how long a crashed holder can
// block others; wait bounds how long Acquire polls.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, logger *logrus.Logger) *RedisLocker {
	return &RedisLocker{
		client:    client,
		ttl:       ttl,
		wait:      wait,
		retryStep: 50 * time.Millisecond,
		logger:    logger,
	}
}

// Acquire takes the lock for key
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryStep):
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// Release even if the caller's context was cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.WithError(err).WithField("key", key).Warn("Failed to release lock")
		}
	}
}

// Ping checks the Redis connection
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// NoopLocker always succeeds. Used when REDIS_URL is not set; the conditional
// updates in the repository still prevent double transitions.
type NoopLocker struct{}

// Acquire returns immediately
func (NoopLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
