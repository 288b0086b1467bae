package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Locker. It only coordinates schedulers that share
// the process, which makes it the default for single-node deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]entry{}, now: time.Now}
}

func (m *Memory) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && !e.expired(now) {
		return false, nil
	}
	m.entries[key] = entry{Owner: owner, ExpiresAt: now.Add(normalizeTTL(ttl)).UnixMilli()}
	return true, nil
}

func (m *Memory) Release(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && e.Owner == owner {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Held(ctx context.Context, key string) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if e.expired(now) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

func (m *Memory) Close() error { return nil }
