// Package cache provides a generic in-memory key-value store with entry
// expiry. Every stateful component of the admission layer (traffic trackers,
// token buckets, blacklist entries, login counters, sessions, profiles)
// keeps its state in an Expiring store instead of carrying its own cleanup
// logic.
//
// Two expiry policies are supported:
//
//   - ExpireAfterWrite: an entry lives for a fixed duration from insertion.
//   - ExpireAfterAccess: every successful read extends the entry's lifetime.
//
// Expiry is enforced lazily: a Get never returns a logically expired entry,
// even if the entry has not yet been physically removed. Physical removal
// happens opportunistically on access and in bulk via Sweep, which the
// maintenance scheduler calls periodically.
//
// The store is sharded so that concurrent operations on different keys do
// not contend on a single lock.
package cache

import (
	"hash/maphash"
	"sync"
	"time"
)

// Policy selects how entry lifetimes are computed.
type Policy int

const (
	// ExpireAfterWrite gives entries a fixed lifetime from insertion.
	ExpireAfterWrite Policy = iota
	// ExpireAfterAccess extends an entry's lifetime on every successful read.
	ExpireAfterAccess
)

const shardCount = 16

type entry[V any] struct {
	value   V
	expires time.Time
	ttl     time.Duration
}

type shard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[V]
}

// Expiring is a sharded expiring map. The zero value is not usable; create
// instances with New.
type Expiring[K comparable, V any] struct {
	policy Policy
	ttl    time.Duration
	seed   maphash.Seed
	shards [shardCount]*shard[K, V]

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an expiring store with the given policy and default TTL.
// A non-positive ttl means entries never expire (useful for explicit
// whitelist-style sets that are managed manually).
func New[K comparable, V any](policy Policy, ttl time.Duration) *Expiring[K, V] {
	e := &Expiring[K, V]{
		policy: policy,
		ttl:    ttl,
		seed:   maphash.MakeSeed(),
		now:    time.Now,
	}
	for i := range e.shards {
		e.shards[i] = &shard[K, V]{entries: make(map[K]*entry[V])}
	}
	return e
}

func (e *Expiring[K, V]) shardFor(key K) *shard[K, V] {
	return e.shards[maphash.Comparable(e.seed, key)%shardCount]
}

// expired reports whether an entry is logically absent at the given instant.
// The boundary is inclusive: at exactly the expiry instant the entry is gone.
func (en *entry[V]) expired(now time.Time) bool {
	return !en.expires.IsZero() && !now.Before(en.expires)
}

// Get returns the value for key, or the zero value and false if the key is
// absent or its entry has expired. Absence is not an error condition.
func (e *Expiring[K, V]) Get(key K) (V, bool) {
	var zero V
	s := e.shardFor(key)
	now := e.now()

	s.mu.RLock()
	en, ok := s.entries[key]
	if !ok {
		s.mu.RUnlock()
		return zero, false
	}
	if en.expired(now) {
		s.mu.RUnlock()
		// Physically remove the dead entry; re-check under the write lock
		// since another goroutine may have replaced it.
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur.expired(e.now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return zero, false
	}
	value := en.value
	s.mu.RUnlock()

	if e.policy == ExpireAfterAccess && en.ttl > 0 {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur == en {
			cur.expires = now.Add(cur.ttl)
		}
		s.mu.Unlock()
	}
	return value, true
}

// Set stores a value under key with the store's default TTL, overwriting any
// existing entry.
func (e *Expiring[K, V]) Set(key K, value V) {
	e.SetWithTTL(key, value, e.ttl)
}

// SetWithTTL stores a value with an entry-specific TTL. A non-positive ttl
// stores an entry that never expires.
func (e *Expiring[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	en := &entry[V]{value: value, ttl: ttl}
	if ttl > 0 {
		en.expires = e.now().Add(ttl)
	}
	s := e.shardFor(key)
	s.mu.Lock()
	s.entries[key] = en
	s.mu.Unlock()
}

// GetOrStore returns the existing value for key if present, otherwise it
// stores and returns the value produced by create. The loaded result is true
// when an existing value was returned. create runs under the shard lock, so
// it must be cheap and must not call back into the store.
func (e *Expiring[K, V]) GetOrStore(key K, create func() V) (V, bool) {
	if v, ok := e.Get(key); ok {
		return v, true
	}

	s := e.shardFor(key)
	now := e.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if en, ok := s.entries[key]; ok && !en.expired(now) {
		if e.policy == ExpireAfterAccess && en.ttl > 0 {
			en.expires = now.Add(en.ttl)
		}
		return en.value, true
	}

	en := &entry[V]{value: create(), ttl: e.ttl}
	if e.ttl > 0 {
		en.expires = now.Add(e.ttl)
	}
	s.entries[key] = en
	return en.value, false
}

// Invalidate removes the entry for key, if any.
func (e *Expiring[K, V]) Invalidate(key K) {
	s := e.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len returns the number of logically live entries.
func (e *Expiring[K, V]) Len() int {
	now := e.now()
	total := 0
	for _, s := range e.shards {
		s.mu.RLock()
		for _, en := range s.entries {
			if !en.expired(now) {
				total++
			}
		}
		s.mu.RUnlock()
	}
	return total
}

// Range calls f for every live entry until f returns false. Entries are
// snapshotted per shard before f runs, so f may safely call back into the
// store.
func (e *Expiring[K, V]) Range(f func(key K, value V) bool) {
	now := e.now()
	for _, s := range e.shards {
		type kv struct {
			k K
			v V
		}
		s.mu.RLock()
		snapshot := make([]kv, 0, len(s.entries))
		for k, en := range s.entries {
			if !en.expired(now) {
				snapshot = append(snapshot, kv{k, en.value})
			}
		}
		s.mu.RUnlock()

		for _, p := range snapshot {
			if !f(p.k, p.v) {
				return
			}
		}
	}
}

// Sweep physically removes all expired entries and returns how many were
// removed. It takes each shard's lock briefly in turn; it never holds more
// than one shard lock at a time.
func (e *Expiring[K, V]) Sweep() int {
	removed := 0
	for _, s := range e.shards {
		now := e.now()
		s.mu.Lock()
		for k, en := range s.entries {
			if en.expired(now) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Clear removes all entries. Mainly useful in tests.
func (e *Expiring[K, V]) Clear() {
	for _, s := range e.shards {
		s.mu.Lock()
		s.entries = make(map[K]*entry[V])
		s.mu.Unlock()
	}
}
