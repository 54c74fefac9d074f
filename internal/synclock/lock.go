// Package synclock provides per-handle mutual exclusion so a manual sync can
// never race the scheduled sweep for the same student.
package synclock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"

	"github.com/mkarpenko/cf-progress/internal/errs"
)

// Release frees a held lease. Safe to call once.
type Release func(ctx context.Context)

// Locker hands out per-handle leases. Acquire returns errs.ErrSyncInProgress
// when the lease is already held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, handle string) (Release, error)
}

// Redis implements Locker with SET NX + TTL; the TTL bounds how long a
// crashed process can keep a handle locked. Release is compare-and-delete so
// an expired lease taken over by another instance is not removed by mistake.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis constructs a redis-backed locker.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: "cfprogress:sync:", ttl: ttl}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end`)

// Acquire takes the lease for the handle (case-insensitive key).
func (l *Redis) Acquire(ctx context.Context, handle string) (Release, error) {
	key := l.prefix + strings.ToLower(handle)
	token := uuid.Must(uuid.NewV4()).String()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrSyncInProgress
	}
	return func(ctx context.Context) {
		_, _ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Result()
	}, nil
}

// Memory is an in-process Locker for tests and single-instance deployments.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory constructs an in-process locker.
func NewMemory() *Memory { return &Memory{held: make(map[string]struct{})} }

// Acquire takes the in-process lease for the handle.
func (l *Memory) Acquire(_ context.Context, handle string) (Release, error) {
	key := strings.ToLower(handle)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, errs.ErrSyncInProgress
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func(context.Context) {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
