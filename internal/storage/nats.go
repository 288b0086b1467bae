package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	logx "shortsched/pkg/logx"
)

const defaultBucket = "shortsched-locks"

// natsStore keeps claims in a JetStream KV bucket. Create fails with
// ErrKeyExists when the key is present, which gives set-if-absent; an expired
// claim is replaced with a revision-checked Update so only one node wins.
// The bucket TTL purges claims that nobody revisits.
type natsStore struct {
	nc  *nats.Conn
	kv  jetstream.KeyValue
	log logx.Logger
	now func() time.Time
}

func openNATS(cfg Config, log logx.Logger) (Locker, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("shortsched"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("storage/nats: connecting to %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("storage/nats: creating JetStream context: %w", err)
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = defaultBucket
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     10 * DefaultTTL,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("storage/nats: creating KV bucket %s: %w", bucket, err)
	}
	log.Debug("nats lock backend connected", logx.String("url", url), logx.String("bucket", bucket))
	return &natsStore{nc: nc, kv: kv, log: log, now: time.Now}, nil
}

// natsKey maps a lock key onto the KV key alphabet.
func natsKey(key string) string {
	return strings.NewReplacer("/", ".", ":", "_", " ", "_").Replace(key)
}

func (s *natsStore) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	k := natsKey(key)
	val, err := json.Marshal(entry{Owner: owner, ExpiresAt: s.now().Add(normalizeTTL(ttl)).UnixMilli()})
	if err != nil {
		return false, err
	}

	_, err = s.kv.Create(ctx, k, val)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		return false, fmt.Errorf("storage/nats: create: %w", err)
	}

	cur, rev, err := s.get(ctx, k)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !cur.expired(s.now()) {
		return false, nil
	}
	if _, err := s.kv.Update(ctx, k, val, rev); err != nil {
		// Another node replaced the expired claim first.
		return false, nil
	}
	return true, nil
}

func (s *natsStore) get(ctx context.Context, k string) (entry, uint64, error) {
	kve, err := s.kv.Get(ctx, k)
	if err != nil {
		return entry{}, 0, err
	}
	var e entry
	if err := json.Unmarshal(kve.Value(), &e); err != nil {
		return entry{}, 0, fmt.Errorf("storage/nats: decode %s: %w", k, err)
	}
	return e, kve.Revision(), nil
}

func (s *natsStore) Release(ctx context.Context, key, owner string) error {
	k := natsKey(key)
	cur, rev, err := s.get(ctx, k)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.Owner != owner {
		return nil
	}
	if err := s.kv.Delete(ctx, k, jetstream.LastRevision(rev)); err != nil {
		return fmt.Errorf("storage/nats: delete: %w", err)
	}
	return nil
}

func (s *natsStore) Held(ctx context.Context, key string) (bool, error) {
	cur, _, err := s.get(ctx, natsKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !cur.expired(s.now()), nil
}

func (s *natsStore) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
