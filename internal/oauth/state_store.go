package oauth

import (
	"context"
	"sync"
	"time"

	"sheetgate/pkg/logging"
)

// SessionStore is the short-lived, TTL-bounded key-value store holding
// pending authorizations and downstream authorization codes.
//
// Consume is an atomic get-and-delete: when several callers consume the same
// key concurrently, at most one of them observes the value.
type SessionStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Consume(ctx context.Context, key string) ([]byte, bool, error)
	// Sweep evicts expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

const (
	stateKeyPrefix = "state:"
	codeKeyPrefix  = "code:"
)

type sessionEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemorySessionStore is the in-process SessionStore for single-instance
// deployments and tests. Expired entries are invisible to Get and Consume
// immediately and are reclaimed by Sweep, which Start runs periodically.
type MemorySessionStore struct {
	mu      sync.Mutex
	entries map[string]sessionEntry
	clock   Clock

	startOnce   sync.Once
	stopOnce    sync.Once
	started     chan struct{}
	stopCleanup chan struct{}
	done        chan struct{}
}

// NewMemorySessionStore creates an empty store. A nil clock uses real time.
func NewMemorySessionStore(clock Clock) *MemorySessionStore {
	return &MemorySessionStore{
		entries:     make(map[string]sessionEntry),
		clock:       clockOrDefault(clock),
		started:     make(chan struct{}),
		stopCleanup: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Put stores value under key for ttl, replacing any existing entry.
func (s *MemorySessionStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = sessionEntry{value: buf, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

// Get returns the value stored under key if it has not expired.
func (s *MemorySessionStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.clock.Now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Consume returns and removes the value stored under key.
func (s *MemorySessionStore) Consume(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	delete(s.entries, key)
	if !s.clock.Now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Sweep removes every expired entry.
func (s *MemorySessionStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	count := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			count++
		}
	}
	return count, nil
}

// Len returns the number of entries, expired or not.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs Sweep every interval until Stop is called or ctx is done.
// Calling Start more than once has no effect.
func (s *MemorySessionStore) Start(ctx context.Context, interval time.Duration) {
	s.startOnce.Do(func() {
		close(s.started)
		go s.cleanupLoop(ctx, interval)
	})
}

// Stop ends the sweeper started by Start and waits for it to exit.
func (s *MemorySessionStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
	select {
	case <-s.started:
		<-s.done
	default:
	}
}

func (s *MemorySessionStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, _ := s.Sweep(ctx); n > 0 {
				logging.Debug("SessionStore", "Swept %d expired entries", n)
			}
		case <-s.stopCleanup:
			return
		case <-ctx.Done():
			return
		}
	}
}
