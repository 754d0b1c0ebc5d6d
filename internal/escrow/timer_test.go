package escrow

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/guard"
)

func TestTimerExpiresOverdueEscrows(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	ledger := newMockLedger()
	store := NewMemoryStore()
	svc := NewService(store, ledger, guard.NewRegistry(), testFeeBps, nil, slog.Default()).WithClock(clock.now)
	timer := NewTimer(svc, store, slog.Default())

	overdue := mustCreateFunded(t, svc, clock, 1_000_000)
	working := mustCreateFunded(t, svc, clock, 500_000)
	if _, err := svc.SubmitWork(context.Background(), working.ID, recipientAddr, SubmitWorkRequest{ProofURI: "ipfs://QmProof"}); err != nil {
		t.Fatalf("SubmitWork: %v", err)
	}

	clock.advance(25 * time.Hour)
	timer.expireOverdue(context.Background())

	got, _ := svc.Get(context.Background(), overdue.ID)
	if got.Status != StatusExpired {
		t.Errorf("overdue status = %s, want expired", got.Status)
	}
	// Submitted work survives the sweep.
	got, _ = svc.Get(context.Background(), working.ID)
	if got.Status != StatusActive {
		t.Errorf("working status = %s, want active", got.Status)
	}
}

func TestTimerStartStop(t *testing.T) {
	svc, _, _ := newTestService(t)
	timer := NewTimer(svc, NewMemoryStore(), slog.Default())
	timer.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for !timer.Running() {
		select {
		case <-deadline:
			t.Fatal("timer never started")
		case <-time.After(time.Millisecond):
		}
	}

	timer.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop")
	}
	if timer.Running() {
		t.Error("timer should report stopped")
	}
}
