// Package session implements the short-lived conversational working-state
// store (spec.md §4.3): validated field staging, pending-confirmation
// previews, and other per-user scratch data that outlives a single message
// but must expire automatically. Backed by Redis when configured, with an
// in-process fallback so a single boss instance runs without external
// infrastructure.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Namespace partitions keys by purpose. Each has its own default TTL
// (spec.md §4.3 table).
type Namespace string

const (
	NSValidation        Namespace = "validation"
	NSPendingValidation Namespace = "pending_validation"
	NSReview            Namespace = "review"
	NSAction            Namespace = "action"
	NSBatch             Namespace = "batch"
	NSSpec              Namespace = "spec"
	NSRecent            Namespace = "recent"
)

// defaultTTL returns the namespace's default expiry. Callers may override
// per-call.
func defaultTTL(ns Namespace) time.Duration {
	switch ns {
	case NSValidation, NSPendingValidation:
		return 10 * time.Minute
	case NSReview:
		return 30 * time.Minute
	case NSAction:
		return 5 * time.Minute
	case NSBatch:
		return 20 * time.Minute
	case NSSpec:
		return 15 * time.Minute
	case NSRecent:
		return 2 * time.Hour
	default:
		return 10 * time.Minute
	}
}

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("session: key not found")

// Store is the namespace-scoped TTL key-value store. Construct with Open.
type Store struct {
	rdb      *redis.Client
	fallback *localStore
	durable  bool
}

// Open connects to Redis at cacheURL. An empty cacheURL, or a Redis that
// fails its initial PING, produces a Store backed by the in-process
// fallback instead — Durable() reports which mode is active.
func Open(ctx context.Context, cacheURL string) *Store {
	if cacheURL == "" {
		return &Store{fallback: newLocalStore(), durable: false}
	}
	opts, err := redis.ParseURL(cacheURL)
	if err != nil {
		return &Store{fallback: newLocalStore(), durable: false}
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return &Store{fallback: newLocalStore(), durable: false}
	}
	return &Store{rdb: rdb, durable: true}
}

// Durable reports whether the store is backed by Redis (survives process
// restart) as opposed to the in-process fallback.
func (s *Store) Durable() bool { return s.durable }

// Close releases the underlying Redis connection, if any.
func (s *Store) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

func fullKey(ns Namespace, userID, key string) string {
	return fmt.Sprintf("boss:%s:%s:%s", ns, userID, key)
}

// Set stores payload under (ns,userID,key) with the namespace's default
// TTL.
func (s *Store) Set(ctx context.Context, ns Namespace, userID, key string, payload []byte) error {
	return s.SetTTL(ctx, ns, userID, key, payload, defaultTTL(ns))
}

// SetTTL stores payload with an explicit TTL override.
func (s *Store) SetTTL(ctx context.Context, ns Namespace, userID, key string, payload []byte, ttl time.Duration) error {
	fk := fullKey(ns, userID, key)
	if s.rdb != nil {
		return s.rdb.Set(ctx, fk, payload, ttl).Err()
	}
	s.fallback.set(fk, payload, ttl)
	return nil
}

// Get retrieves the payload for (ns,userID,key). Returns ErrNotFound if
// absent or expired.
func (s *Store) Get(ctx context.Context, ns Namespace, userID, key string) ([]byte, error) {
	fk := fullKey(ns, userID, key)
	if s.rdb != nil {
		val, err := s.rdb.Get(ctx, fk).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("session: redis get: %w", err)
		}
		return val, nil
	}
	val, ok := s.fallback.get(fk)
	if !ok {
		return nil, ErrNotFound
	}
	return val, nil
}

// Delete removes a key, ignoring absence.
func (s *Store) Delete(ctx context.Context, ns Namespace, userID, key string) error {
	fk := fullKey(ns, userID, key)
	if s.rdb != nil {
		return s.rdb.Del(ctx, fk).Err()
	}
	s.fallback.delete(fk)
	return nil
}

// localStore is the in-process fallback used when Redis is unavailable.
// Each entry carries its own expiry; a background sweep is unnecessary
// since Get checks expiry lazily and Set overwrites.
type localStore struct {
	mu      sync.Mutex
	entries map[string]localEntry
}

type localEntry struct {
	payload []byte
	expires time.Time
}

func newLocalStore() *localStore {
	return &localStore{entries: make(map[string]localEntry)}
}

func (l *localStore) set(key string, payload []byte, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = localEntry{payload: payload, expires: time.Now().Add(ttl)}
}

func (l *localStore) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(l.entries, key)
		return nil, false
	}
	return e.payload, true
}

func (l *localStore) delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}
