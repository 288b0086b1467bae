package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "shortsched/pkg/logx"
)

// takeoverStale bounds how long a crashed takeover can block a key.
const takeoverStale = 10 * time.Second

// fileStore keeps one JSON file per lock key in a directory shared by the
// cooperating nodes (NFS, bind mount, single host with several schedulers).
//
// Files:
//   - <dir>/<key>.lock      current claim {owner, expires_at}
//   - <dir>/<key>.takeover  short-lived marker while an expired claim is replaced
//   - <dir>/.release-*      a claim moved aside while its release is checked
//
// A claim becomes visible through os.Link, which fails if the target exists, so
// creation is atomic and readers never observe a half-written file.
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
	now    func() time.Time

	// afterOwnerCheck runs between Release's owner check and the move aside (tests).
	afterOwnerCheck func()
}

func openFile(cfg Config, log logx.Logger) (Locker, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("lock.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir, now: time.Now}, nil
}

func (s *fileStore) lockPath(key string) string {
	return filepath.Join(s.dir, fileName(key)+".lock")
}

// fileName flattens a lock key into a single path element.
func fileName(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

func (s *fileStore) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if err := s.check(); err != nil {
		return false, err
	}
	path := s.lockPath(key)
	e := entry{Owner: owner, ExpiresAt: s.now().Add(normalizeTTL(ttl)).UnixMilli()}

	ok, err := s.create(path, e)
	if err != nil || ok {
		return ok, err
	}

	cur, err := readEntry(path)
	if errors.Is(err, fs.ErrNotExist) {
		// Released between our create and read; one more attempt.
		return s.create(path, e)
	}
	if err != nil {
		return false, err
	}
	if !cur.expired(s.now()) {
		return false, nil
	}
	if err := s.takeover(path, cur); err != nil {
		return false, err
	}
	return s.create(path, e)
}

// create publishes e at path unless a claim already exists.
func (s *fileStore) create(path string, e entry) (bool, error) {
	tmp, err := os.CreateTemp(s.dir, ".claim-*")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := json.NewEncoder(tmp).Encode(e); err != nil {
		_ = tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// takeover removes an expired claim. The .takeover marker serializes nodes that
// noticed the same expired claim, so a fresh claim is never removed by mistake.
func (s *fileStore) takeover(path string, stale entry) error {
	marker := strings.TrimSuffix(path, ".lock") + ".takeover"
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			if st, serr := os.Stat(marker); serr == nil && s.now().Sub(st.ModTime()) > takeoverStale {
				s.log.Warn("removing stale takeover marker", logx.String("path", marker))
				_ = os.Remove(marker)
			}
			return nil
		}
		return err
	}
	_ = f.Close()
	defer os.Remove(marker)

	cur, err := readEntry(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if cur != stale || !cur.expired(s.now()) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.log.Debug("expired lock taken over", logx.String("path", path), logx.String("owner", stale.Owner))
	return nil
}

func (s *fileStore) Release(ctx context.Context, key, owner string) error {
	if err := s.check(); err != nil {
		return err
	}
	path := s.lockPath(key)
	cur, err := readEntry(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if cur.Owner != owner {
		return nil
	}

	if s.afterOwnerCheck != nil {
		s.afterOwnerCheck()
	}

	// The claim may have expired and been taken over since the read above.
	// Move it aside first so the owner check and the removal see the same file.
	tomb, err := os.CreateTemp(s.dir, ".release-*")
	if err != nil {
		return err
	}
	tombName := tomb.Name()
	_ = tomb.Close()
	defer os.Remove(tombName)

	if err := os.Rename(path, tombName); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	moved, err := readEntry(tombName)
	if err != nil || moved.Owner == owner {
		return err
	}
	// A successor's claim: put it back unless a newer one already replaced it.
	if err := os.Link(tombName, path); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	s.log.Debug("late release left successor claim in place", logx.String("path", path), logx.String("owner", moved.Owner))
	return nil
}

func (s *fileStore) Held(ctx context.Context, key string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	cur, err := readEntry(s.lockPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !cur.expired(s.now()), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func readEntry(path string) (entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return entry{}, err
	}
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		return entry{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return e, nil
}
