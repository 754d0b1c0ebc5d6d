//go:build integration

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ghostspeak/ghostspeak/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func TestPostgres_CreditAndGetBalance(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	err := store.Credit(ctx, payerAddr, 10_500_000, "tx_abc123", "test deposit")
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	bal, err := store.GetBalance(ctx, payerAddr)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}

	if bal.Available != 10_500_000 {
		t.Errorf("Expected available 10500000, got %d", bal.Available)
	}
	if bal.TotalIn != 10_500_000 {
		t.Errorf("Expected totalIn 10500000, got %d", bal.TotalIn)
	}
}

func TestPostgres_EscrowLifecycle(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	if err := store.Credit(ctx, payerAddr, 1_000, "tx_1", "deposit"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := store.EscrowLock(ctx, payerAddr, 1_000, "esc_1"); err != nil {
		t.Fatalf("EscrowLock failed: %v", err)
	}

	bal, _ := store.GetBalance(ctx, payerAddr)
	if bal.Available != 0 || bal.Escrowed != 1_000 {
		t.Fatalf("after lock: available=%d escrowed=%d", bal.Available, bal.Escrowed)
	}

	if err := store.ReleaseEscrow(ctx, payerAddr, recipientAddr, 1_000, 25, treasuryAddr, "esc_1"); err != nil {
		t.Fatalf("ReleaseEscrow failed: %v", err)
	}

	recipient, _ := store.GetBalance(ctx, recipientAddr)
	if recipient.Available != 975 {
		t.Errorf("recipient available = %d, want 975", recipient.Available)
	}
	treasury, _ := store.GetBalance(ctx, treasuryAddr)
	if treasury.Available != 25 {
		t.Errorf("treasury available = %d, want 25", treasury.Available)
	}
}

func TestPostgres_OverdraftRejectedByConstraint(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	if err := store.Credit(ctx, payerAddr, 100, "tx_1", "deposit"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	// The CHECK constraint on available >= 0 rejects the debit.
	if err := store.Withdraw(ctx, payerAddr, 101, "tx_2"); err == nil {
		t.Fatal("overdraft withdraw should fail")
	}

	bal, _ := store.GetBalance(ctx, payerAddr)
	if bal.Available != 100 {
		t.Errorf("balance should be unchanged, got %d", bal.Available)
	}
}

func TestPostgres_ConcurrentEscrowLocks(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	if err := store.Credit(ctx, payerAddr, 1_000, "tx_1", "deposit"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	// 10 concurrent locks of 200 against a balance of 1000: exactly 5 can win.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := store.EscrowLock(ctx, payerAddr, 200, "esc_conc"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 5 {
		t.Errorf("expected exactly 5 successful locks, got %d", succeeded)
	}

	bal, _ := store.GetBalance(ctx, payerAddr)
	if bal.Available != 0 || bal.Escrowed != 1_000 {
		t.Errorf("after concurrent locks: available=%d escrowed=%d", bal.Available, bal.Escrowed)
	}
}

func TestPostgres_HasDeposit(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	exists, err := store.HasDeposit(ctx, "tx_unknown")
	if err != nil || exists {
		t.Fatalf("HasDeposit(unknown) = %v, %v", exists, err)
	}

	if err := store.Credit(ctx, payerAddr, 100, "tx_known", "deposit"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	exists, err = store.HasDeposit(ctx, "tx_known")
	if err != nil || !exists {
		t.Fatalf("HasDeposit(known) = %v, %v", exists, err)
	}
}

func TestPostgres_UnknownAgent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	err := store.Withdraw(ctx, "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS", 100, "tx_1")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("withdraw for unknown agent should fail with ErrAgentNotFound, got %v", err)
	}
}
