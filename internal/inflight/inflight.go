// Package inflight tracks keys (transaction signatures, game ids) that an
// operation is currently processing, so that concurrent callers carrying the
// same key do not both proceed to mutation.
package inflight

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockHeld is returned by a Locker when another process holds the key.
var ErrLockHeld = errors.New("inflight: key is held by another process")

// Set is a concurrency-safe set of keys owned by one component instance.
type Set struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{keys: make(map[string]struct{})}
}

// TryAdd adds key and reports whether it was absent.
func (s *Set) TryAdd(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Remove deletes key.
func (s *Set) Remove(key string) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

// Has reports whether key is present.
func (s *Set) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of keys.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Locker claims a key across processes. Acquire returns ErrLockHeld when the
// key is taken; the returned unlock func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Guard combines a local Set with an optional cross-process Locker.
type Guard struct {
	prefix string
	set    *Set
	locker Locker
	ttl    time.Duration
}

// NewGuard creates a Guard. locker may be nil for single-process deployments.
// prefix namespaces the keys handed to the locker.
func NewGuard(prefix string, locker Locker, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Guard{prefix: prefix, set: NewSet(), locker: locker, ttl: ttl}
}

// TryAcquire claims key. ok is false when the key is already being processed
// here or by another process. release must be called once the work is done.
func (g *Guard) TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error) {
	if !g.set.TryAdd(key) {
		return nil, false, nil
	}
	if g.locker == nil {
		return func() { g.set.Remove(key) }, true, nil
	}

	unlock, err := g.locker.Acquire(ctx, g.prefix+":"+key, g.ttl)
	if err != nil {
		g.set.Remove(key)
		if errors.Is(err, ErrLockHeld) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return func() {
		unlock()
		g.set.Remove(key)
	}, true, nil
}

// Len returns the number of keys held locally.
func (g *Guard) Len() int {
	return g.set.Len()
}
