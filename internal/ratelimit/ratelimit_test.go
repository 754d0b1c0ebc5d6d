package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestCheckAndIncrement_QuotaEnforced(t *testing.T) {
	l := New(map[string]Limit{
		"escrow_create": {MaxCalls: 5, Window: 60 * time.Second},
	})
	defer l.Stop()

	now := time.Unix(1_700_000_000, 0)

	// Exactly 5 calls within the window succeed.
	for i := 0; i < 5; i++ {
		if err := l.CheckAndIncrement("escrow_create", "agentA", now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("call %d should be allowed: %v", i, err)
		}
	}

	// The 6th fails.
	if err := l.CheckAndIncrement("escrow_create", "agentA", now.Add(5*time.Second)); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("6th call should fail with ErrRateLimitExceeded, got %v", err)
	}

	// After the window elapses, a 6th call succeeds.
	if err := l.CheckAndIncrement("escrow_create", "agentA", now.Add(61*time.Second)); err != nil {
		t.Fatalf("call after window elapsed should be allowed: %v", err)
	}
}

func TestCheckAndIncrement_IndependentAccounts(t *testing.T) {
	l := New(map[string]Limit{
		"rating": {MaxCalls: 1, Window: 5 * time.Minute},
	})
	defer l.Stop()

	now := time.Now()

	if err := l.CheckAndIncrement("rating", "agentA", now); err != nil {
		t.Fatal(err)
	}
	if err := l.CheckAndIncrement("rating", "agentA", now); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("agentA should be limited, got %v", err)
	}

	// A different account has its own window.
	if err := l.CheckAndIncrement("rating", "agentB", now); err != nil {
		t.Errorf("agentB should not be limited: %v", err)
	}
}

func TestCheckAndIncrement_IndependentInstructions(t *testing.T) {
	l := New(DefaultLimits)
	defer l.Stop()

	now := time.Now()

	for i := 0; i < 5; i++ {
		if err := l.CheckAndIncrement("registration", "agentA", now); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.CheckAndIncrement("registration", "agentA", now); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("registration should be limited, got %v", err)
	}

	// Other instructions are unaffected.
	if err := l.CheckAndIncrement("escrow_create", "agentA", now); err != nil {
		t.Errorf("escrow_create should not be limited: %v", err)
	}
}

func TestCheckAndIncrement_UnknownInstructionAllowed(t *testing.T) {
	l := New(DefaultLimits)
	defer l.Stop()

	for i := 0; i < 1000; i++ {
		if err := l.CheckAndIncrement("unconfigured", "agentA", time.Now()); err != nil {
			t.Fatalf("unconfigured instruction should never be limited: %v", err)
		}
	}
}

func TestWindowResetIsStrictlyTimeBased(t *testing.T) {
	l := New(map[string]Limit{
		"payment": {MaxCalls: 2, Window: 10 * time.Second},
	})
	defer l.Stop()

	now := time.Unix(1_700_000_000, 0)

	_ = l.CheckAndIncrement("payment", "agentA", now)
	_ = l.CheckAndIncrement("payment", "agentA", now)

	// Still inside the window: denied no matter how many times it is asked.
	for i := 0; i < 10; i++ {
		if err := l.CheckAndIncrement("payment", "agentA", now.Add(9*time.Second)); !errors.Is(err, ErrRateLimitExceeded) {
			t.Fatalf("call inside window should be denied, got %v", err)
		}
	}

	// Exactly at the boundary the window has not yet elapsed.
	if err := l.CheckAndIncrement("payment", "agentA", now.Add(10*time.Second)); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("call at window boundary should be denied, got %v", err)
	}

	// Past the boundary the window resets.
	if err := l.CheckAndIncrement("payment", "agentA", now.Add(10*time.Second+time.Millisecond)); err != nil {
		t.Fatalf("call past window should be allowed: %v", err)
	}
}
