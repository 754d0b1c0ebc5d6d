package guard

import (
	"errors"
	"testing"
)

func TestLockRejectsReentry(t *testing.T) {
	r := NewRegistry()

	release, err := r.Lock("escrow:abc")
	if err != nil {
		t.Fatalf("first Lock failed: %v", err)
	}

	if _, err := r.Lock("escrow:abc"); !errors.Is(err, ErrReentrancy) {
		t.Fatalf("second Lock should fail with ErrReentrancy, got %v", err)
	}

	// Independent resources are unaffected.
	release2, err := r.Lock("escrow:other")
	if err != nil {
		t.Fatalf("independent resource should lock: %v", err)
	}
	release2()

	release()
	if r.Held("escrow:abc") {
		t.Error("resource still held after release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()

	release, err := r.Lock("res")
	if err != nil {
		t.Fatal(err)
	}
	release()
	release() // must not panic or unlock someone else's acquisition

	again, err := r.Lock("res")
	if err != nil {
		t.Fatalf("relock after release failed: %v", err)
	}

	// The stale release func from the first acquisition must not free
	// the second acquisition.
	release()
	if !r.Held("res") {
		t.Error("stale release freed a newer acquisition")
	}
	again()
}

func TestUnlockAfterFailedOperation(t *testing.T) {
	r := NewRegistry()

	// Simulate an operation that errors mid-way but defers its release.
	op := func() error {
		release, err := r.Lock("escrow:x")
		if err != nil {
			return err
		}
		defer release()
		return errors.New("transfer failed")
	}

	if err := op(); err == nil {
		t.Fatal("expected operation error")
	}

	// The resource must be lockable again after the failure.
	release, err := r.Lock("escrow:x")
	if err != nil {
		t.Fatalf("resource not released after failed operation: %v", err)
	}
	release()
}

func TestUnlockIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Unlock("never-locked") // no-op

	if _, err := r.Lock("a"); err != nil {
		t.Fatal(err)
	}
	r.Unlock("a")
	r.Unlock("a")
	if r.Held("a") {
		t.Error("resource still held after Unlock")
	}
}
