package store

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps snapshots in a map. Sessions do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
	now   func() time.Time
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*Snapshot), now: time.Now}
}

// Load implements [Store].
func (m *MemoryStore) Load(_ context.Context, key string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snaps[key].Clone(), nil
}

// Save implements [Store].
func (m *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := snap.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c := snap.Clone()
	c.UpdatedAt = m.now().UTC()

	m.mu.Lock()
	m.snaps[c.Key] = c
	m.mu.Unlock()
	return nil
}

// Delete implements [Store].
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.snaps, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored snapshots.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snaps)
}

// Close implements [Store]. It is a no-op.
func (m *MemoryStore) Close() error { return nil }
