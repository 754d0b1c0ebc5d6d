package reputation

import (
	"context"
	"sync"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/token"
)

// MemoryStore is an in-memory reputation store for demo/development mode.
type MemoryStore struct {
	payments map[string][]*Payment // keyed by agent address
	ratings  map[string][]*Rating  // keyed by ratee address
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory reputation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string][]*Payment),
		ratings:  make(map[string][]*Rating),
	}
}

func (m *MemoryStore) AddPayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.AgentAddr] = append(m.payments[p.AgentAddr], p)
	return nil
}

func (m *MemoryStore) AddRating(ctx context.Context, r *Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[r.Ratee] = append(m.ratings[r.Ratee], r)
	return nil
}

func (m *MemoryStore) GetStats(ctx context.Context, agentAddr string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{AgentAddr: agentAddr}

	for _, p := range m.payments[agentAddr] {
		stats.TotalPayments++
		if p.Success {
			stats.SuccessfulPayments++
		} else {
			stats.FailedPayments++
		}

		vol, err := token.CheckedAdd(stats.TotalVolume, p.Amount)
		if err != nil {
			return nil, err
		}
		stats.TotalVolume = vol

		if p.ResponseSeconds > 0 {
			stats.ResponseCount++
			stats.ResponseSecondsSum += p.ResponseSeconds
		}
		if stats.FirstSeen.IsZero() || p.CreatedAt.Before(stats.FirstSeen) {
			stats.FirstSeen = p.CreatedAt
		}
		if p.CreatedAt.After(stats.LastActive) {
			stats.LastActive = p.CreatedAt
		}
	}

	for _, r := range m.ratings[agentAddr] {
		stats.RatingCount++
		stats.RatingSum += r.Rating
	}

	return stats, nil
}

func (m *MemoryStore) VolumeSince(ctx context.Context, agentAddr string, since time.Time) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var volume uint64
	for _, p := range m.payments[agentAddr] {
		if p.CreatedAt.Before(since) {
			continue
		}
		v, err := token.CheckedAdd(volume, p.Amount)
		if err != nil {
			return 0, err
		}
		volume = v
	}
	return volume, nil
}

func (m *MemoryStore) ListAgents(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool, len(m.payments))
	var agents []string
	for addr := range m.payments {
		if !seen[addr] {
			seen[addr] = true
			agents = append(agents, addr)
		}
	}
	for addr := range m.ratings {
		if !seen[addr] {
			seen[addr] = true
			agents = append(agents, addr)
		}
	}
	return agents, nil
}
