package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work on a key. Lock blocks until the key is held or ctx
// is done; the returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Local is an in-process keyed mutex. Entries are dropped once no goroutine
// holds or waits on them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { l.release(key, e, true) }) }, nil
}

func (l *Local) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

var ErrNotAcquired = errors.New("lock not acquired")

// Redis holds keys with SET NX PX so that every process sharing the Redis
// instance sees the same lock. TTL bounds how long a crashed holder can block
// others.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

// NewRedis returns a Redis locker. prefix namespaces keys so multiple lockers
// can coexist without interfering with each other.
func NewRedis(rdb *redis.Client, ttl time.Duration, prefix string) *Redis {
	if prefix == "" {
		prefix = "lock:"
	} else if !strings.HasPrefix(prefix, "lock:") {
		prefix = "lock:" + prefix
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{rdb: rdb, ttl: ttl, retry: 25 * time.Millisecond, prefix: prefix}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()
	for {
		ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, err
		}
		if ok {
			break
		}
		t := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-t.C:
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release with a fresh context: the caller's may already be done.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.rdb, []string{k}, token).Err()
		})
	}, nil
}

// releaseScript deletes the key only when it still carries our token, so a
// holder whose TTL lapsed cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
