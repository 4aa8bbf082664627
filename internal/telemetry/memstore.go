package telemetry

import (
	"context"
	"sync"

	"github.com/solatis/uploadwaf/internal/types"
)

// MemoryStore keeps the most recent samples in a ring. Used when no database is configured.
type MemoryStore struct {
	mu   sync.Mutex
	ring []types.SampledRequest
	next int
	full bool
}

// NewMemoryStore creates a store holding up to capacity samples.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{ring: make([]types.SampledRequest, capacity)}
}

// InsertSample implements SampleStore.
func (m *MemoryStore) InsertSample(_ context.Context, s types.SampledRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = s
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// ListSamples implements SampleStore. Newest first.
func (m *MemoryStore) ListSamples(_ context.Context, f SampleFilter) ([]types.SampledRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.full {
		n = len(m.ring)
	}

	var out []types.SampledRequest
	for i := 0; i < n; i++ {
		idx := (m.next - 1 - i + len(m.ring)) % len(m.ring)
		s := m.ring[idx]
		if f.PolicyID != "" && s.PolicyID != f.PolicyID {
			continue
		}
		if f.Rule != "" && s.Rule != f.Rule {
			continue
		}
		out = append(out, s)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
