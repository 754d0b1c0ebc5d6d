package escrow

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestGetSummaryEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)

	summary, err := svc.GetSummary(context.Background())
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary.TotalCount != 0 {
		t.Errorf("totalCount = %d, want 0", summary.TotalCount)
	}
	if summary.DisputeRate != 0 || summary.ExpiryRate != 0 {
		t.Error("rates should be zero with no escrows")
	}
}

func TestGetSummary(t *testing.T) {
	svc, _, clock := newTestService(t)
	svc.WithDisputeFiler(&mockFiler{})
	ctx := context.Background()

	// Two completed, one disputed, one expired.
	for i := 0; i < 2; i++ {
		e := mustCreateFunded(t, svc, clock, 1_000_000)
		if _, err := svc.SubmitWork(ctx, e.ID, recipientAddr, SubmitWorkRequest{ProofURI: "ipfs://QmProof"}); err != nil {
			t.Fatalf("SubmitWork: %v", err)
		}
		if _, err := svc.Approve(ctx, e.ID, payerAddr, ApproveRequest{}); err != nil {
			t.Fatalf("Approve: %v", err)
		}
	}

	disputed := mustCreateFunded(t, svc, clock, 500_000)
	if _, err := svc.Dispute(ctx, disputed.ID, payerAddr, DisputeRequest{Reason: "no delivery"}); err != nil {
		t.Fatalf("Dispute: %v", err)
	}

	stale := mustCreateFunded(t, svc, clock, 250_000)
	clock.advance(25 * time.Hour)
	if err := svc.Expire(ctx, stale.ID); err != nil {
		t.Fatalf("Expire: %v", err)
	}

	summary, err := svc.GetSummary(ctx)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary.TotalCount != 4 {
		t.Errorf("totalCount = %d, want 4", summary.TotalCount)
	}
	if summary.ByStatus["completed"] != 2 {
		t.Errorf("completed = %d, want 2", summary.ByStatus["completed"])
	}
	if summary.ByStatus["disputed"] != 1 || summary.ByStatus["expired"] != 1 {
		t.Errorf("byStatus = %v", summary.ByStatus)
	}
	if summary.TotalVolume != 2_750_000 {
		t.Errorf("totalVolume = %d, want 2750000", summary.TotalVolume)
	}
	if summary.ReleasedVolume != 2_000_000 {
		t.Errorf("releasedVolume = %d, want 2000000", summary.ReleasedVolume)
	}
	if summary.TotalVolumeFmt != "2.750000" {
		t.Errorf("totalVolumeFormatted = %q, want 2.750000", summary.TotalVolumeFmt)
	}
	if math.Abs(summary.DisputeRate-25.0) > 0.001 {
		t.Errorf("disputeRate = %f, want 25.0", summary.DisputeRate)
	}
	if math.Abs(summary.ExpiryRate-25.0) > 0.001 {
		t.Errorf("expiryRate = %f, want 25.0", summary.ExpiryRate)
	}
}
