//go:build integration

package escrow

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func setupTestDB(t *testing.T) *PostgresStore {
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
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	t.Cleanup(func() {
		db.ExecContext(context.Background(), `DELETE FROM escrows`)
		db.Close()
	})
	return store
}

func testEscrow(id string) *Escrow {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Escrow{
		ID:          id,
		Payer:       payerAddr,
		Recipient:   recipientAddr,
		Amount:      1_000_000,
		FeeBps:      250,
		Description: "integration test escrow",
		Status:      StatusActive,
		ExpiresAt:   now.Add(24 * time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPostgres_EscrowRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	e := testEscrow("esc_pg_roundtrip")
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Payer != e.Payer || got.Amount != e.Amount || got.FeeBps != e.FeeBps {
		t.Errorf("got = %+v", got)
	}
	if got.Status != StatusActive || got.Funded {
		t.Errorf("status = %s funded = %v", got.Status, got.Funded)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	got.Funded = true
	got.FundedAt = &now
	got.Status = StatusDisputed
	got.DisputeID = "dsp_pg_test"
	got.UpdatedAt = now
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got2, _ := store.Get(ctx, e.ID)
	if got2.Status != StatusDisputed || !got2.Funded || got2.FundedAt == nil {
		t.Errorf("after update: %+v", got2)
	}
	if got2.DisputeID != "dsp_pg_test" {
		t.Errorf("disputeId = %q", got2.DisputeID)
	}
}

func TestPostgres_MilestonesPersist(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	e := testEscrow("esc_pg_milestones")
	now := time.Now().UTC().Truncate(time.Microsecond)
	e.Milestones = []Milestone{
		{Index: 0, Amount: 400_000, Description: "draft", Status: MilestoneSubmitted, ProofURI: "ipfs://QmA", SubmittedAt: &now},
		{Index: 1, Amount: 500_000, Description: "final", Status: MilestonePending},
	}
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Milestones) != 2 {
		t.Fatalf("milestones = %d, want 2", len(got.Milestones))
	}
	if got.Milestones[0].Status != MilestoneSubmitted || got.Milestones[0].Amount != 400_000 {
		t.Errorf("m0 = %+v", got.Milestones[0])
	}
	if got.Milestones[1].Status != MilestonePending {
		t.Errorf("m1 = %+v", got.Milestones[1])
	}
}

func TestPostgres_UnknownEscrow(t *testing.T) {
	store := setupTestDB(t)

	if _, err := store.Get(context.Background(), "esc_missing"); err != ErrEscrowNotFound {
		t.Errorf("Get error = %v, want ErrEscrowNotFound", err)
	}
	if err := store.Update(context.Background(), testEscrow("esc_missing")); err != ErrEscrowNotFound {
		t.Errorf("Update error = %v, want ErrEscrowNotFound", err)
	}
}

func TestPostgres_ListExpired(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	overdue := testEscrow("esc_pg_overdue")
	overdue.Funded = true
	overdue.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	if err := store.Create(ctx, overdue); err != nil {
		t.Fatalf("Create overdue: %v", err)
	}

	fresh := testEscrow("esc_pg_fresh")
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatalf("Create fresh: %v", err)
	}

	expired, err := store.ListExpired(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != overdue.ID {
		t.Errorf("expired = %+v", expired)
	}
}

func TestPostgres_Aggregates(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	a := testEscrow("esc_pg_agg_a")
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	b := testEscrow("esc_pg_agg_b")
	b.Amount = 500_000
	b.Status = StatusCompleted
	b.ReleasedAmount = 500_000
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("Create: %v", err)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[StatusActive] != 1 || counts[StatusCompleted] != 1 {
		t.Errorf("counts = %v", counts)
	}

	total, released, err := store.SumVolume(ctx)
	if err != nil {
		t.Fatalf("SumVolume: %v", err)
	}
	if total != 1_500_000 || released != 500_000 {
		t.Errorf("volume = %d/%d, want 1500000/500000", total, released)
	}

	escrows, err := store.ListByAgent(ctx, payerAddr, 10)
	if err != nil {
		t.Fatalf("ListByAgent: %v", err)
	}
	if len(escrows) != 2 {
		t.Errorf("escrows = %d, want 2", len(escrows))
	}
}
