package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"staybook/internal/app/policies"
)

const (
	lockPrefix     = "staybook:lock:"
	lockRetryDelay = 20 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker serializes work on a key across service instances with SET NX PX.
type Locker struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func NewLocker(client goredis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

func (l *Locker) Lock(ctx context.Context, key string) (policies.UnlockFunc, error) {
	token := uuid.NewString()
	redisKey := lockPrefix + key
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			released := false
			return func(ctx context.Context) error {
				if released {
					return nil
				}
				released = true
				return releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(policies.ErrLockNotAcquired, ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
}

var _ policies.Locker = (*Locker)(nil)
