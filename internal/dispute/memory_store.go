package dispute

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory dispute store for demo/development mode.
type MemoryStore struct {
	disputes map[string]*Dispute
	byEscrow map[string]string // escrowID -> disputeID of the latest case
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[string]*Dispute),
		byEscrow: make(map[string]string),
	}
}

func (m *MemoryStore) CreateDispute(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneDispute(d)
	m.disputes[d.ID] = cp
	m.byEscrow[d.EscrowID] = d.ID
	return nil
}

func (m *MemoryStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return cloneDispute(d), nil
}

func (m *MemoryStore) GetByEscrow(ctx context.Context, escrowID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEscrow[escrowID]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return cloneDispute(m.disputes[id]), nil
}

func (m *MemoryStore) UpdateDispute(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	m.disputes[d.ID] = cloneDispute(d)
	return nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Dispute
	for _, d := range m.disputes {
		if d.Status == status {
			out = append(out, cloneDispute(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneDispute(d *Dispute) *Dispute {
	cp := *d
	if d.Evidence != nil {
		cp.Evidence = make([]Evidence, len(d.Evidence))
		copy(cp.Evidence, d.Evidence)
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
