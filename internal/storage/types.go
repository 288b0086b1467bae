package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrClosed        = errors.New("storage closed")
	ErrEmptyKey      = errors.New("lock key is empty")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// DefaultTTL bounds how long a lock entry survives a node that never released it.
const DefaultTTL = 60 * time.Second

// Locker is the distributed cache used for single-node execution.
//
// TryAcquire must be atomic at the backend (set-if-absent). An entry whose TTL
// has passed is treated as absent. Release only removes the entry if it is still
// owned by owner, so a late release never drops another node's claim.
type Locker interface {
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
	Held(ctx context.Context, key string) (bool, error)
	Close() error
}

// Config configures the lock backend.
//
// Driver values: "memory" (default), "file", "sqlite", "redis", "nats".
// If Driver is "none", Open returns ErrDisabled.
type Config struct {
	Driver string

	// file: directory holding lock files; sqlite: database file.
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// redis
	Addr     string
	Password string
	DB       int

	// nats
	URL    string
	Bucket string
}

// entry is the persisted shape of a lock (file and nats backends).
type entry struct {
	Owner     string `json:"owner"`
	ExpiresAt int64  `json:"expires_at"` // unix milli
}

func (e entry) expired(now time.Time) bool { return e.ExpiresAt <= now.UnixMilli() }

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
