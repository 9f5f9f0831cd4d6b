package cache

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the owner of a key may extend or drop it.
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Locker hands out short-lived exclusive keys. It backs the webhook
// in-flight lock.
type Locker struct {
	client *redis.Client
}

// NewLocker builds a Locker on the given client, or the shared one when nil.
func NewLocker(c *redis.Client) *Locker {
	if c == nil {
		c = GetClient()
	}
	return &Locker{client: c}
}

// TryLock sets key if it is absent and returns the owner token.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock removes key when it is still owned by token.
func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}

// Lease is a renewable ownership claim shared by all instances, so only one
// of them runs the periodic sweeps.
type Lease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewLease creates a lease on key. Each process gets its own owner id.
func NewLease(c *redis.Client, key string, ttl time.Duration) *Lease {
	if c == nil {
		c = GetClient()
	}
	return &Lease{client: c, key: key, owner: uuid.NewString(), ttl: ttl}
}

// Owner returns the id this process writes into the lease key.
func (l *Lease) Owner() string {
	return l.owner
}

// Hold acquires the lease if it is free, or renews it if this process
// already owns it. It reports whether the caller holds the lease afterwards.
func (l *Lease) Hold(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		log.Infof("[Lease] %s acquired by %s", l.key, l.owner)
		return true, nil
	}
	return l.Renew(ctx)
}

// Renew extends the lease only while this process owns it.
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return n == 1, nil
}

// Release gives the lease up if this process owns it.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
