// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	generations map[string]*Generation // keyed by generation ID
	closed      bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		generations: make(map[string]*Generation),
	}
}

// SaveGeneration stores a new generation.
func (m *MockStore) SaveGeneration(ctx context.Context, g *Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.generations[g.ID]; exists {
		return ErrDuplicateGeneration
	}

	// Make a copy to avoid external modification
	c := *g
	if c.Outcome == "" {
		c.Outcome = OutcomeRunning
	}
	m.generations[c.ID] = &c
	return nil
}

// FinishGeneration sets the terminal outcome of a generation.
func (m *MockStore) FinishGeneration(ctx context.Context, id, outcome string, textLength int, errMsg string, finishedAt time.Time) error {
	if !ValidOutcome(outcome) {
		return fmt.Errorf("invalid outcome %q", outcome)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.generations[id]
	if !ok {
		return ErrNotFound
	}
	g.Outcome = outcome
	g.TextLength = textLength
	g.Error = errMsg
	g.FinishedAt = finishedAt
	return nil
}

// GetGeneration retrieves a generation by ID.
func (m *MockStore) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.generations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *g
	return &c, nil
}

// ListGenerations returns generations newest first.
func (m *MockStore) ListGenerations(ctx context.Context, roomID string, limit int) ([]*Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Generation
	for _, g := range m.generations {
		if roomID != "" && g.RoomID != roomID {
			continue
		}
		c := *g
		out = append(out, &c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
