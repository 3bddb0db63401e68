package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another holder owns the guard.
var ErrBusy = errors.New("lock is held")

const DefaultTTL = 10 * time.Minute

// Guard admits a single run at a time. Release must be called exactly once after a successful Acquire.
type Guard interface {
	Acquire(ctx context.Context, owner string) (release func(), err error)
}

// Local is an in-process guard.
type Local struct {
	mu sync.Mutex
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Acquire(_ context.Context, _ string) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// releaseScript deletes the key only while it still holds the owner's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the key's TTL only while it still holds the owner's token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lease shared by every replica using the same key. The holder
// renews it every ttl/3 until release, so a run may outlive the TTL.
type Redis struct {
	logger *slog.Logger
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, key string, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		logger: logger.With("module", "lock"),
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

func (r *Redis) Acquire(ctx context.Context, owner string) (func(), error) {
	ok, err := r.client.SetNX(ctx, r.key, owner, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", r.key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	renewCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.renew(renewCtx, owner)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{r.key}, owner).Err(); err != nil {
				r.logger.Warn("Failed releasing lease; it will expire", "key", r.key, "ttl", r.ttl, "err", err)
			}
		})
	}, nil
}

func (r *Redis) renew(ctx context.Context, owner string) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		extended, err := extendScript.Run(ctx, r.client, []string{r.key}, owner, r.ttl.Milliseconds()).Int()
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			r.logger.Warn("Failed renewing lease", "key", r.key, "owner", owner, "err", err)
		case extended == 0:
			r.logger.Error("Lease lost before release", "key", r.key, "owner", owner)
			return
		}
	}
}

// Chained acquires every guard in order and releases them in reverse.
type Chained []Guard

func (c Chained) Acquire(ctx context.Context, owner string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, g := range c {
		if g == nil {
			continue
		}
		release, err := g.Acquire(ctx, owner)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
