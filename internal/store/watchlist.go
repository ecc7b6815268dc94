package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrNoAccounts indicates the watchlist currently has no account to hand out.
var ErrNoAccounts = errors.New("no watched accounts available")

// WatchlistStore keeps the set of Hyperliquid accounts whose fills are streamed.
type WatchlistStore struct {
	client *redis.Client
	key    string
}

func NewWatchlistStore(client *redis.Client, key string) *WatchlistStore {
	return &WatchlistStore{client: client, key: key}
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func (s *WatchlistStore) Add(ctx context.Context, address string) error {
	if s.key == "" {
		return fmt.Errorf("watchlist key is not configured")
	}
	address = normalizeAddress(address)
	if address == "" {
		return fmt.Errorf("empty account address")
	}
	if err := s.client.SAdd(ctx, s.key, address).Err(); err != nil {
		return fmt.Errorf("redis SADD %s: %w", s.key, err)
	}
	return nil
}

func (s *WatchlistStore) Remove(ctx context.Context, address string) error {
	if s.key == "" {
		return fmt.Errorf("watchlist key is not configured")
	}
	if err := s.client.SRem(ctx, s.key, normalizeAddress(address)).Err(); err != nil {
		return fmt.Errorf("redis SREM %s: %w", s.key, err)
	}
	return nil
}

// List returns every account currently waiting in the watchlist.
func (s *WatchlistStore) List(ctx context.Context) ([]string, error) {
	if s.key == "" {
		return nil, fmt.Errorf("watchlist key is not configured")
	}
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %s: %w", s.key, err)
	}
	res := make([]string, 0, len(members))
	for _, m := range members {
		if m = normalizeAddress(m); m != "" {
			res = append(res, m)
		}
	}
	return res, nil
}

type PutBackFunc func() error

// Acquire removes a single account from the watchlist and hands it to the caller.
// The returned PutBackFunc re-adds it once the caller stops streaming.
func (s *WatchlistStore) Acquire(ctx context.Context) (string, PutBackFunc, error) {
	if s.key == "" {
		return "", nil, fmt.Errorf("watchlist key is not configured")
	}
	member, err := s.client.SPop(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, ErrNoAccounts
	}
	if err != nil {
		return "", nil, fmt.Errorf("redis SPOP %s: %w", s.key, err)
	}
	putBack := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.client.SAdd(ctx, s.key, member).Err(); err != nil {
			return fmt.Errorf("redis SADD %s: %w", s.key, err)
		}
		return nil
	}
	return member, putBack, nil
}
