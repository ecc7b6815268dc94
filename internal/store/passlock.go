package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PassLock is a Redis lease that keeps replicas from running the same
// enforcement pass at the same time.
type PassLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPassLock(client *redis.Client, prefix string, ttl time.Duration) *PassLock {
	return &PassLock{client: client, prefix: prefix, ttl: ttl}
}

// TryAcquire takes the lease for pass. ok is false when another holder owns it.
func (l *PassLock) TryAcquire(ctx context.Context, pass string) (release func(), ok bool, err error) {
	key := l.prefix + pass
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis SETNX %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
