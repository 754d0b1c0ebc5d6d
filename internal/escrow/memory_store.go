package escrow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/token"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	escrows map[string]*Escrow
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{escrows: make(map[string]*Escrow)}
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escrows[e.ID] = cloneEscrow(e)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return cloneEscrow(e), nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[e.ID]; !ok {
		return ErrEscrowNotFound
	}
	m.escrows[e.ID] = cloneEscrow(e)
	return nil
}

func (m *MemoryStore) ListByAgent(ctx context.Context, agentAddr string, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Escrow
	for _, e := range m.escrows {
		if e.Payer == agentAddr || e.Recipient == agentAddr {
			out = append(out, cloneEscrow(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Escrow
	for _, e := range m.escrows {
		if e.Status == StatusActive && e.ExpiresAt.Before(before) {
			out = append(out, cloneEscrow(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[Status]int)
	for _, e := range m.escrows {
		counts[e.Status]++
	}
	return counts, nil
}

func (m *MemoryStore) SumVolume(ctx context.Context) (total, released uint64, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.escrows {
		total, err = token.CheckedAdd(total, e.Amount)
		if err != nil {
			return 0, 0, err
		}
		released, err = token.CheckedAdd(released, e.ReleasedAmount)
		if err != nil {
			return 0, 0, err
		}
	}
	return total, released, nil
}
