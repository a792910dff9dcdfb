package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

// Locker serializes turns of the same conversation. The returned func releases
// the lock and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, conversationID string) (func(), error)
}

var ErrLockTimeout = errors.New("timed out waiting for conversation lock")

/* ----------------------------- local locker ----------------------------- */

// LocalLocker is an in-process Locker for single-replica deployments.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidConversation
	}

	l.mu.Lock()
	lk, ok := l.locks[conversationID]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[conversationID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(conversationID, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.release(conversationID, lk)
		})
	}, nil
}

func (l *LocalLocker) release(conversationID string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, conversationID)
	}
}

/* ----------------------------- redis locker ----------------------------- */

const (
	defaultLockPrefix = "support:lock:"
	defaultLockTTL    = 2 * time.Minute
	defaultLockPoll   = 50 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a lease lock shared by every replica. The lease expires after
// ttl so a crashed replica cannot wedge a conversation; while the holder is
// alive the lease is renewed every ttl/3 until released.
type RedisLocker struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{rdb: rdb, prefix: defaultLockPrefix, ttl: ttl, poll: defaultLockPoll}
}

func (r *RedisLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidConversation
	}
	key := r.prefix + conversationID
	token := uuid.NewString()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		acquired, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire conversation lock: %w", err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}

	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		keepAlive(renewCtx, r.ttl/3, func(ctx context.Context) (bool, error) {
			n, err := renewScript.Run(ctx, r.rdb, []string{key}, token, r.ttl.Milliseconds()).Int64()
			return n == 1, err
		}, conversationID)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopRenew()
			<-renewed
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.rdb, []string{key}, token).Err(); err != nil {
				logx.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to release conversation lock")
			}
		})
	}, nil
}

// keepAlive calls renew every interval until ctx ends or the lease is lost.
func keepAlive(ctx context.Context, interval time.Duration, renew func(context.Context) (bool, error), conversationID string) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		held, err := renew(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logx.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to renew conversation lock")
			continue
		}
		if !held {
			logx.Warn().Str("conversation_id", conversationID).Msg("conversation lock lease lost")
			return
		}
	}
}

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
