package snapshot

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/jmylchreest/sitescout/internal/state"
)

// MemoryStore keeps snapshots in process. Payloads are stored encoded so
// later mutation of a saved snapshot's maps cannot leak into the store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	meta map[string]Summary
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		meta: make(map[string]Summary),
	}
}

func (m *MemoryStore) Save(_ context.Context, snap state.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[snap.Domain] = payload
	m.meta[snap.Domain] = summarize(snap)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, domain string) (state.Snapshot, error) {
	m.mu.RLock()
	payload, ok := m.data[domain]
	m.mu.RUnlock()
	if !ok {
		return state.Snapshot{}, ErrNotFound
	}
	var snap state.Snapshot
	err := json.Unmarshal(payload, &snap)
	return snap, err
}

func (m *MemoryStore) List(context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.meta))
	for _, s := range m.meta {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
