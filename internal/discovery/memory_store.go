package discovery

import (
	"context"
	"sync"

	xerrors "Plugweave/internal/errors"
	"Plugweave/pkg/plugin"
)

// MemoryStore keeps the index state in process memory, used for tests and
// single-node deployments without MySQL.
type MemoryStore struct {
	mu          sync.RWMutex
	descriptors map[string]plugin.Descriptor
	fragments   map[string][]Fragment
	stats       map[string]UsageStats
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		descriptors: make(map[string]plugin.Descriptor),
		fragments:   make(map[string][]Fragment),
		stats:       make(map[string]UsageStats),
	}
}

// SaveDescriptor implements Store.
func (m *MemoryStore) SaveDescriptor(_ context.Context, desc plugin.Descriptor) error {
	if desc.Identity == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "descriptor identity cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[desc.Identity] = desc.Clone()
	return nil
}

// ReplaceFragments implements Store.
func (m *MemoryStore) ReplaceFragments(_ context.Context, identity string, fragments []Fragment) error {
	if identity == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "identity cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragments[identity] = append([]Fragment(nil), fragments...)
	return nil
}

// UpsertStats implements Store.
func (m *MemoryStore) UpsertStats(_ context.Context, identity string, stats UsageStats) error {
	if identity == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "identity cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[identity] = stats
	return nil
}

// LoadAll implements Store.
func (m *MemoryStore) LoadAll(_ context.Context) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := &Snapshot{
		Descriptors: make(map[string]plugin.Descriptor, len(m.descriptors)),
		Fragments:   make(map[string][]Fragment, len(m.fragments)),
		Stats:       make(map[string]UsageStats, len(m.stats)),
	}
	for identity, desc := range m.descriptors {
		snapshot.Descriptors[identity] = desc.Clone()
	}
	for identity, fragments := range m.fragments {
		snapshot.Fragments[identity] = append([]Fragment(nil), fragments...)
	}
	for identity, stats := range m.stats {
		snapshot.Stats[identity] = stats
	}
	return snapshot, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
