package auction

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/events"
	"github.com/ghostspeak/ghostspeak/internal/idgen"
	"github.com/ghostspeak/ghostspeak/internal/metrics"
)

// Store persists sealed bids.
type Store interface {
	CreateBid(ctx context.Context, bid *Bid) error
	GetBid(ctx context.Context, id string) (*Bid, error)
	UpdateBid(ctx context.Context, bid *Bid) error
	GetBidByBidder(ctx context.Context, auctionID, bidder string) (*Bid, error)
	ListBidsByAuction(ctx context.Context, auctionID string, limit int) ([]*Bid, error)
}

// Service implements the commit-reveal flow.
type Service struct {
	store    Store
	emitter  *events.Emitter
	minDelay time.Duration
	maxDelay time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an auction service with the default reveal window.
func NewService(store Store, emitter *events.Emitter, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		emitter:  emitter,
		minDelay: DefaultRevealMinDelay,
		maxDelay: DefaultRevealMaxDelay,
		logger:   logger,
		now:      time.Now,
	}
}

// WithRevealWindow overrides the reveal window bounds.
func (s *Service) WithRevealWindow(min, max time.Duration) *Service {
	s.minDelay = min
	s.maxDelay = max
	return s
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Commit records a sealed bid. The commitment is a hex SHA-256 digest of
// the little-endian amount followed by the nonce bytes. One live bid per
// bidder per auction.
func (s *Service) Commit(ctx context.Context, auctionID, bidder, commitment string) (*Bid, error) {
	if !isHexDigest(commitment) {
		return nil, ErrInvalidCommit
	}

	existing, err := s.store.GetBidByBidder(ctx, auctionID, bidder)
	if err != nil && err != ErrBidNotFound {
		return nil, fmt.Errorf("checking existing bid: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyCommitted
	}

	bid := &Bid{
		ID:          idgen.WithPrefix("bid_"),
		AuctionID:   auctionID,
		Bidder:      bidder,
		Commitment:  commitment,
		Status:      BidStatusCommitted,
		CommittedAt: s.now(),
	}
	if err := s.store.CreateBid(ctx, bid); err != nil {
		return nil, fmt.Errorf("storing bid: %w", err)
	}

	metrics.BidsTotal.WithLabelValues("committed").Inc()
	s.emitter.EmitBidCommitted(bid.ID, auctionID, bidder)
	s.logger.Info("bid committed", "bid", bid.ID, "auction", auctionID, "bidder", bidder)
	return bid, nil
}

// Reveal discloses a committed bid. The (amount, nonce) pair must hash to
// the stored commitment and the reveal must land inside the window measured
// from the commit timestamp.
func (s *Service) Reveal(ctx context.Context, bidID, bidder string, amount uint64, nonceHex string) (*Bid, error) {
	bid, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.Bidder != bidder {
		return nil, ErrUnauthorized
	}
	if bid.Status == BidStatusRevealed {
		return nil, ErrAlreadyRevealed
	}

	elapsed := s.now().Sub(bid.CommittedAt)
	if elapsed < s.minDelay {
		return nil, ErrRevealTooEarly
	}
	if elapsed > s.maxDelay {
		return nil, ErrRevealTooLate
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, ErrInvalidReveal
	}
	if !verifyCommitment(bid.Commitment, amount, nonce) {
		return nil, ErrInvalidReveal
	}

	now := s.now()
	bid.Amount = amount
	bid.Nonce = nonceHex
	bid.Status = BidStatusRevealed
	bid.RevealedAt = &now
	if err := s.store.UpdateBid(ctx, bid); err != nil {
		return nil, fmt.Errorf("updating bid: %w", err)
	}

	metrics.BidsTotal.WithLabelValues("revealed").Inc()
	s.emitter.EmitBidRevealed(bid.ID, bid.AuctionID, bidder, amount)
	s.logger.Info("bid revealed", "bid", bid.ID, "auction", bid.AuctionID, "amount", amount)
	return bid, nil
}

// GetBid fetches a bid by ID.
func (s *Service) GetBid(ctx context.Context, id string) (*Bid, error) {
	return s.store.GetBid(ctx, id)
}

// ListBids returns bids for an auction, sealed ones with amounts hidden.
func (s *Service) ListBids(ctx context.Context, auctionID string, limit int) ([]*Bid, error) {
	return s.store.ListBidsByAuction(ctx, auctionID, limit)
}
