//go:build integration

package dispute

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
		db.ExecContext(ctx, "DELETE FROM disputes")
		db.Close()
	}

	return store, cleanup
}

func newStoredDispute(escrow string) *Dispute {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Dispute{
		ID:         idgen.WithPrefix("dsp_"),
		EscrowID:   escrow,
		Initiator:  payerAddr,
		Respondent: recipientAddr,
		Reason:     "work not delivered",
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPostgres_DisputeRoundTrip(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	d := newStoredDispute(escrowID)
	if err := store.CreateDispute(ctx, d); err != nil {
		t.Fatalf("CreateDispute failed: %v", err)
	}

	got, err := store.GetDispute(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDispute failed: %v", err)
	}
	if got.Status != StatusOpen || got.Reason != d.Reason {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Evidence) != 0 {
		t.Errorf("evidence = %v, want empty", got.Evidence)
	}

	byEscrow, err := store.GetByEscrow(ctx, escrowID)
	if err != nil {
		t.Fatalf("GetByEscrow failed: %v", err)
	}
	if byEscrow.ID != d.ID {
		t.Errorf("GetByEscrow returned %s, want %s", byEscrow.ID, d.ID)
	}
}

func TestPostgres_EvidenceJSONPersists(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	d := newStoredDispute(escrowID)
	if err := store.CreateDispute(ctx, d); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	d.Evidence = append(d.Evidence,
		Evidence{Submitter: payerAddr, URI: "ipfs://QmOne", Description: "transcript", SubmittedAt: now},
		Evidence{Submitter: recipientAddr, URI: "ipfs://QmTwo", SubmittedAt: now},
	)
	d.UpdatedAt = now
	if err := store.UpdateDispute(ctx, d); err != nil {
		t.Fatalf("UpdateDispute failed: %v", err)
	}

	got, err := store.GetDispute(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Evidence) != 2 {
		t.Fatalf("evidence count = %d, want 2", len(got.Evidence))
	}
	if got.Evidence[0].URI != "ipfs://QmOne" || got.Evidence[1].Submitter != recipientAddr {
		t.Errorf("evidence content mismatch: %+v", got.Evidence)
	}
}

func TestPostgres_ResolutionPersists(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	d := newStoredDispute(escrowID)
	if err := store.CreateDispute(ctx, d); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	d.Status = StatusResolved
	d.Decision = DecisionSplit
	d.RefundPct = 30
	d.Reasoning = "partial delivery"
	d.Arbitrator = arbitratorAddr
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if err := store.UpdateDispute(ctx, d); err != nil {
		t.Fatalf("UpdateDispute failed: %v", err)
	}

	got, err := store.GetDispute(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Decision != DecisionSplit || got.RefundPct != 30 || got.Arbitrator != arbitratorAddr {
		t.Errorf("resolution mismatch: %+v", got)
	}
	if got.ResolvedAt == nil {
		t.Error("resolvedAt not persisted")
	}
}

func TestPostgres_UnknownDispute(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.GetDispute(ctx, "dsp_missing"); !errors.Is(err, ErrDisputeNotFound) {
		t.Errorf("GetDispute: got %v, want ErrDisputeNotFound", err)
	}
	if err := store.UpdateDispute(ctx, newStoredDispute("esc_none")); !errors.Is(err, ErrDisputeNotFound) {
		t.Errorf("UpdateDispute: got %v, want ErrDisputeNotFound", err)
	}
}

func TestPostgres_ListByStatus(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := newStoredDispute("esc_one")
	first.CreatedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	second := newStoredDispute("esc_two")
	if err := store.CreateDispute(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateDispute(ctx, second); err != nil {
		t.Fatal(err)
	}

	open, err := store.ListByStatus(ctx, StatusOpen, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("got %d disputes, want 2", len(open))
	}
	if open[0].ID != first.ID {
		t.Error("disputes not ordered oldest first")
	}
}
