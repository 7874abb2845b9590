// Package joblock provides a best-effort distributed mutex on Redis so that
// periodic jobs run by several schedulers execute at most once at a time.
package joblock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("joblock: lock is held by another owner")

// Client is the subset of redis.Cmdable the locker uses.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

type Locker struct {
	client Client
	prefix string
}

func New(client Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

func (l *Locker) key(name string) string {
	if l.prefix == "" {
		return name
	}
	return l.prefix + ":" + name
}

// Acquire takes the named lock for ttl or returns ErrNotAcquired.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("joblock: ttl must be positive, got %s", ttl)
	}
	key := l.key(name)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("joblock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{locker: l, key: key, token: token}, nil
}

// Release returns true when the key was still ours.
func (lk *Lock) Release(ctx context.Context) (bool, error) {
	if lk == nil || lk.token == "" {
		return false, nil
	}
	n, err := lk.locker.client.Eval(ctx, releaseScript, []string{lk.key}, lk.token).Int64()
	lk.token = ""
	if err != nil {
		return false, fmt.Errorf("joblock: release %s: %w", lk.key, err)
	}
	return n == 1, nil
}

func (lk *Lock) Key() string {
	return lk.key
}
