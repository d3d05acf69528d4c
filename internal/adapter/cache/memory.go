// Package cache holds domain.SearchCache implementations.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

type memoryEntry struct {
	results   []domain.SearchResult
	expiresAt time.Time
}

// Memory is a process-local TTL cache. Expired entries are dropped on read
// and by PurgeExpired.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{entries: make(map[string]memoryEntry), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]domain.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, domain.ErrCacheMiss
	}
	return cloneResults(e.results), nil
}

func (m *Memory) Set(_ context.Context, key string, results []domain.SearchResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{results: cloneResults(results), expiresAt: m.now().Add(ttl)}
	return nil
}

// PurgeExpired removes expired entries and reports how many were dropped.
func (m *Memory) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func cloneResults(in []domain.SearchResult) []domain.SearchResult {
	if in == nil {
		return nil
	}
	out := make([]domain.SearchResult, len(in))
	copy(out, in)
	return out
}

var _ domain.SearchCache = (*Memory)(nil)
