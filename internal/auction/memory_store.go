package auction

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory bid store for demo/development mode.
type MemoryStore struct {
	bids map[string]*Bid
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory bid store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bids: make(map[string]*Bid)}
}

func (m *MemoryStore) CreateBid(ctx context.Context, bid *Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *bid
	m.bids[bid.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBid(ctx context.Context, id string) (*Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bid, ok := m.bids[id]
	if !ok {
		return nil, ErrBidNotFound
	}
	cp := *bid
	return &cp, nil
}

func (m *MemoryStore) UpdateBid(ctx context.Context, bid *Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bids[bid.ID]; !ok {
		return ErrBidNotFound
	}
	cp := *bid
	m.bids[bid.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBidByBidder(ctx context.Context, auctionID, bidder string) (*Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, bid := range m.bids {
		if bid.AuctionID == auctionID && bid.Bidder == bidder {
			cp := *bid
			return &cp, nil
		}
	}
	return nil, ErrBidNotFound
}

func (m *MemoryStore) ListBidsByAuction(ctx context.Context, auctionID string, limit int) ([]*Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Bid
	for _, bid := range m.bids {
		if bid.AuctionID == auctionID {
			cp := *bid
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CommittedAt.Before(out[j].CommittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
