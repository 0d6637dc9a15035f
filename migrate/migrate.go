// Package migrate implements the migration registry (component J,
// spec.md §4.5): short-lived key→value entries with a fixed TTL,
// notify-on-insert, and cancel-safe take.
package migrate

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"hash"
	"io"
	"sync"
	"time"

	"github.com/yawning/bloom"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrNotFound is returned by TryTake when the key is absent or expired.
var ErrNotFound = errors.New("migrate: not found")

// ErrClosed is returned by Take/TakeWithTimeout when the registry has
// been closed while a caller was waiting.
var ErrClosed = errors.New("migrate: registry closed")

type entry struct {
	sealed []byte
	nonce  [24]byte
	expiry time.Time
}

// Registry holds migration hand-off entries in memory, optionally backed
// by a durable bbolt store so a hand-off key survives a process restart
// of the inserting side.
type Registry struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]entry
	waiters map[string][]chan struct{}

	probe *bloom.Filter

	sealKey [32]byte

	db     *bolt.DB
	bucket []byte

	closed   bool
	closeCh  chan struct{}
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithDurableStore attaches a bbolt bucket so inserted entries survive a
// restart. bucket is created if absent.
func WithDurableStore(db *bolt.DB, bucket string) Option {
	return func(r *Registry) {
		r.db = db
		r.bucket = []byte(bucket)
	}
}

// New builds a Registry with the given entry TTL. masterSecret seeds the
// value-sealing key via HKDF so registry values (which may carry session
// key material) are never stored in plaintext.
func New(ttl time.Duration, masterSecret []byte, opts ...Option) (*Registry, error) {
	r := &Registry{
		ttl:     ttl,
		entries: make(map[string]entry),
		waiters: make(map[string][]chan struct{}),
		probe:   bloom.New(1<<20, 7),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	kdf := hkdf.New(func() hash.Hash { return sha256.New() }, masterSecret, nil, []byte("shroomlink-migrate-seal"))
	if _, err := io.ReadFull(kdf, r.sealKey[:]); err != nil {
		return nil, err
	}

	if r.db != nil {
		if err := r.db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(r.bucket)
			return err
		}); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Insert stores value under key with the registry's configured TTL and
// notifies any waiters blocked in Take/TakeWithTimeout for this key.
func (r *Registry) Insert(key string, value []byte) error {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nil, value, &nonce, &r.sealKey)
	e := entry{sealed: sealed, nonce: nonce, expiry: time.Now().Add(r.ttl)}

	r.mu.Lock()
	r.entries[key] = e
	r.probe.Add([]byte(key))
	waiters := r.waiters[key]
	delete(r.waiters, key)
	r.mu.Unlock()

	if r.db != nil {
		if err := r.persist(key, e); err != nil {
			return err
		}
	}

	for _, ch := range waiters {
		close(ch)
	}
	return nil
}

// TryTake atomically removes and returns the value for key if present and
// not expired.
func (r *Registry) TryTake(key string) ([]byte, error) {
	// The bloom probe only reflects keys Insert has added to this process's
	// in-memory filter, so it can't short-circuit a durable-backed registry:
	// a key persisted by a prior process never touched this filter.
	if r.db == nil && !r.probe.Test([]byte(key)) {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if !ok {
		if r.db == nil {
			return nil, ErrNotFound
		}
		var err error
		e, ok, err = r.loadAndDelete(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
	} else if r.db != nil {
		_ = r.deletePersisted(key)
	}

	if time.Now().After(e.expiry) {
		return nil, ErrNotFound
	}

	value, ok := secretbox.Open(nil, e.sealed, &e.nonce, &r.sealKey)
	if !ok {
		return nil, errors.New("migrate: corrupt entry")
	}
	return value, nil
}

// Take blocks until key is inserted (or already present), then removes
// and returns its value. Cancel-safe: ctx cancellation returns ctx.Err()
// without side effects on the registry.
func (r *Registry) Take(ctx context.Context, key string) ([]byte, error) {
	for {
		// Register before checking, so an Insert that lands between the
		// check and the wait still wakes this waiter.
		notify := make(chan struct{})
		r.mu.Lock()
		r.waiters[key] = append(r.waiters[key], notify)
		r.mu.Unlock()

		v, err := r.TryTake(key)
		if err == nil {
			return v, nil
		}
		if err != ErrNotFound {
			return nil, err
		}

		select {
		case <-notify:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.closeCh:
			return nil, ErrClosed
		}
	}
}

// TakeWithTimeout is Take bounded by dur.
func (r *Registry) TakeWithTimeout(key string, dur time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dur)
	defer cancel()
	return r.Take(ctx, key)
}

// Clean evicts expired in-memory entries. Callers typically run this on
// a periodic tick.
func (r *Registry) Clean() {
	now := time.Now()
	r.mu.Lock()
	for k, e := range r.entries {
		if now.After(e.expiry) {
			delete(r.entries, k)
		}
	}
	r.mu.Unlock()
}

// Close releases waiters blocked in Take.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.closeCh)
}
