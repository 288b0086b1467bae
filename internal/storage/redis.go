package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	logx "shortsched/pkg/logx"
)

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisStore claims keys with SET NX PX, so Redis expires abandoned claims.
type redisStore struct {
	client goredis.UniversalClient
	log    logx.Logger
	owned  bool
}

func openRedis(cfg Config, log logx.Logger) (Locker, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage/redis: ping %s: %w", addr, err)
	}
	log.Debug("redis lock backend connected", logx.String("addr", addr))
	return &redisStore{client: client, log: log, owned: true}, nil
}

// NewRedis wraps an existing client. The caller owns the client lifecycle.
func NewRedis(client goredis.UniversalClient, log logx.Logger) Locker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{client: client, log: log}
}

func (s *redisStore) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	ok, err := s.client.SetNX(ctx, key, owner, normalizeTTL(ttl)).Result()
	if err != nil {
		return false, fmt.Errorf("storage/redis: setnx: %w", err)
	}
	return ok, nil
}

func (s *redisStore) Release(ctx context.Context, key, owner string) error {
	err := releaseScript.Run(ctx, s.client, []string{key}, owner).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("storage/redis: release: %w", err)
	}
	return nil
}

func (s *redisStore) Held(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("storage/redis: exists: %w", err)
	}
	return n > 0, nil
}

func (s *redisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
