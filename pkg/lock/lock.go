package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only when the caller still owns it.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Locker provides duration-bounded mutual exclusion on top of Redis. The
// scheduler acquires it before a tick so two processes never select the same
// pending task set; the TTL bounds how long a crashed holder blocks others.
type Locker struct {
	client *redis.Client
}

// New constructs a Locker.
func New(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Lease is a held lock. Release it when the guarded work is done.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the named lock for at most ttl. Returns ErrNotAcquired when
// the lock is already held.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("lock token: %w", err)
	}
	key := "lock:" + name
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

// Release frees the lock if this lease still owns it. Releasing an expired
// lease is not an error.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	if err := le.client.Eval(ctx, releaseScript, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", le.key, err)
	}
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
