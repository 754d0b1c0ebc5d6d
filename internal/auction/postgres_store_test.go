//go:build integration

package auction

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/ghostspeak/ghostspeak/internal/idgen"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		db.ExecContext(ctx, "DELETE FROM auction_bids")
		db.Close()
	}

	return store, cleanup
}

func newStoredBid(auction, bidder string) *Bid {
	return &Bid{
		ID:          idgen.WithPrefix("bid_"),
		AuctionID:   auction,
		Bidder:      bidder,
		Commitment:  Commitment(5_000_000, testNonce),
		Status:      BidStatusCommitted,
		CommittedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgres_CommitRevealRoundTrip(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	bid := newStoredBid(auctionID, bidderAddr)
	if err := store.CreateBid(ctx, bid); err != nil {
		t.Fatalf("CreateBid failed: %v", err)
	}

	got, err := store.GetBid(ctx, bid.ID)
	if err != nil {
		t.Fatalf("GetBid failed: %v", err)
	}
	if got.Commitment != bid.Commitment {
		t.Errorf("commitment = %s, want %s", got.Commitment, bid.Commitment)
	}
	if got.Status != BidStatusCommitted {
		t.Errorf("status = %s, want committed", got.Status)
	}
	if got.RevealedAt != nil {
		t.Error("revealedAt should be nil before reveal")
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	got.Amount = 5_000_000
	got.Nonce = "deadbeef01020304"
	got.Status = BidStatusRevealed
	got.RevealedAt = &now
	if err := store.UpdateBid(ctx, got); err != nil {
		t.Fatalf("UpdateBid failed: %v", err)
	}

	revealed, err := store.GetBid(ctx, bid.ID)
	if err != nil {
		t.Fatalf("GetBid after update failed: %v", err)
	}
	if revealed.Amount != 5_000_000 {
		t.Errorf("amount = %d, want 5000000", revealed.Amount)
	}
	if revealed.RevealedAt == nil {
		t.Error("revealedAt not persisted")
	}
}

func TestPostgres_UniqueBidderPerAuction(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.CreateBid(ctx, newStoredBid(auctionID, bidderAddr)); err != nil {
		t.Fatalf("first CreateBid failed: %v", err)
	}
	if err := store.CreateBid(ctx, newStoredBid(auctionID, bidderAddr)); err == nil {
		t.Error("duplicate bidder on same auction should violate unique constraint")
	}
	if err := store.CreateBid(ctx, newStoredBid(auctionID, otherAddr)); err != nil {
		t.Errorf("different bidder on same auction failed: %v", err)
	}
}

func TestPostgres_GetBidByBidder(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	bid := newStoredBid(auctionID, bidderAddr)
	if err := store.CreateBid(ctx, bid); err != nil {
		t.Fatalf("CreateBid failed: %v", err)
	}

	got, err := store.GetBidByBidder(ctx, auctionID, bidderAddr)
	if err != nil {
		t.Fatalf("GetBidByBidder failed: %v", err)
	}
	if got.ID != bid.ID {
		t.Errorf("id = %s, want %s", got.ID, bid.ID)
	}

	_, err = store.GetBidByBidder(ctx, auctionID, otherAddr)
	if !errors.Is(err, ErrBidNotFound) {
		t.Errorf("got %v, want ErrBidNotFound", err)
	}
}

func TestPostgres_ListBidsByAuction(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := newStoredBid(auctionID, bidderAddr)
	first.CommittedAt = time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond)
	second := newStoredBid(auctionID, otherAddr)
	if err := store.CreateBid(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateBid(ctx, second); err != nil {
		t.Fatal(err)
	}

	bids, err := store.ListBidsByAuction(ctx, auctionID, 10)
	if err != nil {
		t.Fatalf("ListBidsByAuction failed: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("got %d bids, want 2", len(bids))
	}
	if bids[0].ID != first.ID {
		t.Error("bids not ordered by committed_at ascending")
	}
}
