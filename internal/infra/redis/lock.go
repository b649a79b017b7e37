package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openctemio/securitysync/internal/app"
)

const lockKeyPrefix = "securitysync:lock:"

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// extendScript resets the lock TTL only if it still holds our token.
var extendScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// RunLock is a single-holder lock serializing reconciliation runs of one
// repository and project across processes.
type RunLock struct {
	client *Client
	key    string
	ttl    time.Duration

	// renewEvery is how often a held lock gets its TTL reset.
	renewEvery time.Duration
}

var _ app.RunLocker = (*RunLock)(nil)

// NewRunLock creates the lock for a repository and tracker project.
func NewRunLock(client *Client, repository, project string, ttl time.Duration) *RunLock {
	return &RunLock{
		client: client,
		key:        LockKey(repository, project),
		ttl:        ttl,
		renewEvery: ttl / 3,
	}
}

// LockKey returns the Redis key of the run lock.
func LockKey(repository, project string) string {
	return lockKeyPrefix + repository + ":" + project
}

// Acquire takes the lock. It returns app.ErrRunLocked when another holder has
// it. While held, the TTL is renewed in the background so runs longer than
// the TTL keep the lock; a crashed holder's lock expires after the TTL.
func (l *RunLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.New().String()

	ok, err := l.client.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", l.key, err)
	}
	if !ok {
		return nil, app.ErrRunLocked
	}

	l.client.logger.Debug("run lock acquired", "key", l.key, "ttl", l.ttl)

	renewCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if l.renewEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.keepAlive(renewCtx, token)
		}()
	}

	var once sync.Once
	release := func(ctx context.Context) error {
		once.Do(func() {
			stop()
			wg.Wait()
		})

		n, err := releaseScript.Run(ctx, l.client.client, []string{l.key}, token).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis release %s: %w", l.key, err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		l.client.logger.Debug("run lock released", "key", l.key)
		return nil
	}
	return release, nil
}

// keepAlive renews the lock until ctx is done or the lock is lost.
func (l *RunLock) keepAlive(ctx context.Context, token string) {
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := l.extend(ctx, token)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.client.logger.Warn("run lock renewal failed", "key", l.key, "error", err)
				continue
			}
			if !held {
				l.client.logger.Warn("run lock lost", "key", l.key)
				return
			}
		}
	}
}

// extend resets the TTL if token still holds the lock.
func (l *RunLock) extend(ctx context.Context, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis extend %s: %w", l.key, err)
	}
	return n == 1, nil
}
