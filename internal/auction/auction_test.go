package auction

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"testing"
	"time"
)

const (
	auctionID  = "auc_7f3a2b"
	bidderAddr = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	otherAddr  = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

var testNonce = []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}

// fakeClock advances manually so tests can walk the reveal window.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	svc := NewService(NewMemoryStore(), nil, slog.Default()).WithClock(clock.now)
	return svc, clock
}

func commitTestBid(t *testing.T, svc *Service, amount uint64) *Bid {
	t.Helper()
	bid, err := svc.Commit(context.Background(), auctionID, bidderAddr, Commitment(amount, testNonce))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return bid
}

func TestCommitment(t *testing.T) {
	// Same inputs hash identically, any perturbation changes the digest
	a := Commitment(1000, testNonce)
	b := Commitment(1000, testNonce)
	if a != b {
		t.Error("commitment is not deterministic")
	}
	if Commitment(1001, testNonce) == a {
		t.Error("amount change did not change the commitment")
	}
	if Commitment(1000, []byte{0x00}) == a {
		t.Error("nonce change did not change the commitment")
	}
	if len(a) != 64 {
		t.Errorf("commitment length = %d, want 64 hex chars", len(a))
	}
}

func TestCommitBid(t *testing.T) {
	svc, _ := newTestService(t)

	bid := commitTestBid(t, svc, 5_000_000)

	if bid.Status != BidStatusCommitted {
		t.Errorf("status = %s, want committed", bid.Status)
	}
	if bid.Amount != 0 {
		t.Errorf("amount = %d, sealed bid must not expose it", bid.Amount)
	}
	if bid.Nonce != "" {
		t.Error("nonce must stay hidden until reveal")
	}
}

func TestCommitBid_Duplicate(t *testing.T) {
	svc, _ := newTestService(t)
	commitTestBid(t, svc, 5_000_000)

	_, err := svc.Commit(context.Background(), auctionID, bidderAddr, Commitment(7_000_000, testNonce))
	if !errors.Is(err, ErrAlreadyCommitted) {
		t.Errorf("got %v, want ErrAlreadyCommitted", err)
	}

	// A different bidder on the same auction is fine
	if _, err := svc.Commit(context.Background(), auctionID, otherAddr, Commitment(7_000_000, testNonce)); err != nil {
		t.Errorf("second bidder commit failed: %v", err)
	}
}

func TestCommitBid_MalformedCommitment(t *testing.T) {
	svc, _ := newTestService(t)

	for _, commitment := range []string{"", "abcd", "zz" + Commitment(1, testNonce)[2:]} {
		_, err := svc.Commit(context.Background(), auctionID, bidderAddr, commitment)
		if !errors.Is(err, ErrInvalidCommit) {
			t.Errorf("commitment %q: got %v, want ErrInvalidCommit", commitment, err)
		}
	}
}

func TestReveal(t *testing.T) {
	svc, clock := newTestService(t)
	bid := commitTestBid(t, svc, 5_000_000)

	clock.advance(120 * time.Second)

	revealed, err := svc.Reveal(context.Background(), bid.ID, bidderAddr, 5_000_000, hex.EncodeToString(testNonce))
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if revealed.Status != BidStatusRevealed {
		t.Errorf("status = %s, want revealed", revealed.Status)
	}
	if revealed.Amount != 5_000_000 {
		t.Errorf("amount = %d, want 5000000", revealed.Amount)
	}
	if revealed.RevealedAt == nil {
		t.Error("revealedAt not set")
	}
}

func TestReveal_Mismatch(t *testing.T) {
	svc, clock := newTestService(t)
	bid := commitTestBid(t, svc, 5_000_000)
	clock.advance(120 * time.Second)
	ctx := context.Background()
	nonce := hex.EncodeToString(testNonce)

	// Off-by-one amount
	if _, err := svc.Reveal(ctx, bid.ID, bidderAddr, 5_000_001, nonce); !errors.Is(err, ErrInvalidReveal) {
		t.Errorf("amount mismatch: got %v, want ErrInvalidReveal", err)
	}
	// Wrong nonce
	if _, err := svc.Reveal(ctx, bid.ID, bidderAddr, 5_000_000, "00"); !errors.Is(err, ErrInvalidReveal) {
		t.Errorf("nonce mismatch: got %v, want ErrInvalidReveal", err)
	}
	// Non-hex nonce
	if _, err := svc.Reveal(ctx, bid.ID, bidderAddr, 5_000_000, "not-hex"); !errors.Is(err, ErrInvalidReveal) {
		t.Errorf("bad nonce encoding: got %v, want ErrInvalidReveal", err)
	}
}

func TestReveal_TooEarly(t *testing.T) {
	svc, clock := newTestService(t)
	bid := commitTestBid(t, svc, 5_000_000)

	clock.advance(10 * time.Second)

	_, err := svc.Reveal(context.Background(), bid.ID, bidderAddr, 5_000_000, hex.EncodeToString(testNonce))
	if !errors.Is(err, ErrRevealTooEarly) {
		t.Errorf("got %v, want ErrRevealTooEarly", err)
	}
}

func TestReveal_TooLate(t *testing.T) {
	svc, clock := newTestService(t)
	bid := commitTestBid(t, svc, 5_000_000)

	clock.advance(400 * time.Second)

	_, err := svc.Reveal(context.Background(), bid.ID, bidderAddr, 5_000_000, hex.EncodeToString(testNonce))
	if !errors.Is(err, ErrRevealTooLate) {
		t.Errorf("got %v, want ErrRevealTooLate", err)
	}
}

func TestReveal_WindowBoundaries(t *testing.T) {
	ctx := context.Background()
	nonce := hex.EncodeToString(testNonce)

	// Exactly at the open: allowed
	svc, clock := newTestService(t)
	bid := commitTestBid(t, svc, 1_000_000)
	clock.advance(60 * time.Second)
	if _, err := svc.Reveal(ctx, bid.ID, bidderAddr, 1_000_000, nonce); err != nil {
		t.Errorf("reveal at 60s: %v", err)
	}

	// Exactly at the close: allowed
	svc, clock = newTestService(t)
	bid = commitTestBid(t, svc, 1_000_000)
	clock.advance(300 * time.Second)
	if _, err := svc.Reveal(ctx, bid.ID, bidderAddr, 1_000_000, nonce); err != nil {
		t.Errorf("reveal at 300s: %v", err)
	}
}

func TestReveal_WrongBidder(t *testing.T) {
	svc, clock := newTestService(t)
	bid := commitTestBid(t, svc, 5_000_000)
	clock.advance(120 * time.Second)

	_, err := svc.Reveal(context.Background(), bid.ID, otherAddr, 5_000_000, hex.EncodeToString(testNonce))
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestReveal_Twice(t *testing.T) {
	svc, clock := newTestService(t)
	bid := commitTestBid(t, svc, 5_000_000)
	clock.advance(120 * time.Second)
	nonce := hex.EncodeToString(testNonce)

	if _, err := svc.Reveal(context.Background(), bid.ID, bidderAddr, 5_000_000, nonce); err != nil {
		t.Fatalf("first reveal: %v", err)
	}
	_, err := svc.Reveal(context.Background(), bid.ID, bidderAddr, 5_000_000, nonce)
	if !errors.Is(err, ErrAlreadyRevealed) {
		t.Errorf("got %v, want ErrAlreadyRevealed", err)
	}
}

func TestReveal_UnknownBid(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Reveal(context.Background(), "bid_missing", bidderAddr, 1, "00")
	if !errors.Is(err, ErrBidNotFound) {
		t.Errorf("got %v, want ErrBidNotFound", err)
	}
}

func TestListBids_OrderedByCommitTime(t *testing.T) {
	svc, clock := newTestService(t)
	commitTestBid(t, svc, 1_000_000)
	clock.advance(time.Second)
	if _, err := svc.Commit(context.Background(), auctionID, otherAddr, Commitment(2_000_000, testNonce)); err != nil {
		t.Fatal(err)
	}

	bids, err := svc.ListBids(context.Background(), auctionID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("got %d bids, want 2", len(bids))
	}
	if bids[0].Bidder != bidderAddr || bids[1].Bidder != otherAddr {
		t.Error("bids not ordered by commit time")
	}
}
