package dispute

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

const (
	escrowID       = "esc_9f2c1a"
	payerAddr      = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	recipientAddr  = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	arbitratorAddr = "7YttLkHDoNj9wyDur5pM1ejNaAvT9X4eqaYcHQqch5wZ"
)

// recordingSettler captures SettleDispute calls and optionally fails.
type recordingSettler struct {
	calls    []settleCall
	failNext bool
}

type settleCall struct {
	escrowID  string
	refundPct uint8
	reasoning string
}

func (r *recordingSettler) SettleDispute(_ context.Context, escrowID string, refundPct uint8, reasoning string) error {
	if r.failNext {
		r.failNext = false
		return errors.New("settlement failed")
	}
	r.calls = append(r.calls, settleCall{escrowID, refundPct, reasoning})
	return nil
}

func newTestService(t *testing.T) (*Service, *recordingSettler) {
	t.Helper()
	settler := &recordingSettler{}
	svc := NewService(NewMemoryStore(), []string{arbitratorAddr}, nil, slog.Default())
	svc.SetSettler(settler)
	return svc, settler
}

func fileTestDispute(t *testing.T, svc *Service) *Dispute {
	t.Helper()
	d, err := svc.File(context.Background(), escrowID, payerAddr, recipientAddr, "work not delivered")
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	return d
}

func TestFile(t *testing.T) {
	svc, _ := newTestService(t)
	d := fileTestDispute(t, svc)

	if d.Status != StatusOpen {
		t.Errorf("status = %s, want open", d.Status)
	}
	if d.Initiator != payerAddr || d.Respondent != recipientAddr {
		t.Error("parties not recorded")
	}
	if d.EscrowID != escrowID {
		t.Errorf("escrowId = %s, want %s", d.EscrowID, escrowID)
	}
}

func TestFile_DuplicateOpenCase(t *testing.T) {
	svc, _ := newTestService(t)
	fileTestDispute(t, svc)

	_, err := svc.File(context.Background(), escrowID, recipientAddr, payerAddr, "counter dispute")
	if !errors.Is(err, ErrDuplicateDispute) {
		t.Errorf("got %v, want ErrDuplicateDispute", err)
	}
}

func TestSubmitEvidence(t *testing.T) {
	svc, _ := newTestService(t)
	d := fileTestDispute(t, svc)
	ctx := context.Background()

	d, err := svc.SubmitEvidence(ctx, d.ID, payerAddr, "ipfs://QmEvidence1", "chat transcript")
	if err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	d, err = svc.SubmitEvidence(ctx, d.ID, recipientAddr, "ipfs://QmEvidence2", "delivery proof")
	if err != nil {
		t.Fatalf("submit evidence: %v", err)
	}

	if len(d.Evidence) != 2 {
		t.Fatalf("evidence count = %d, want 2", len(d.Evidence))
	}
	if d.Evidence[0].Submitter != payerAddr || d.Evidence[1].Submitter != recipientAddr {
		t.Error("evidence not appended in order")
	}
}

func TestSubmitEvidence_OutsiderRejected(t *testing.T) {
	svc, _ := newTestService(t)
	d := fileTestDispute(t, svc)

	_, err := svc.SubmitEvidence(context.Background(), d.ID, "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS", "ipfs://x", "")
	if !errors.Is(err, ErrNotParty) {
		t.Errorf("got %v, want ErrNotParty", err)
	}
}

func TestSubmitEvidence_ClosedAfterArbitration(t *testing.T) {
	svc, _ := newTestService(t)
	d := fileTestDispute(t, svc)
	ctx := context.Background()

	if _, err := svc.BeginReview(ctx, d.ID, arbitratorAddr); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Escalate(ctx, d.ID, arbitratorAddr); err != nil {
		t.Fatal(err)
	}

	_, err := svc.SubmitEvidence(ctx, d.ID, payerAddr, "ipfs://late", "")
	if !errors.Is(err, ErrEvidenceClosed) {
		t.Errorf("got %v, want ErrEvidenceClosed", err)
	}
}

func TestStateMachineTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	d := fileTestDispute(t, svc)
	ctx := context.Background()

	// Escalate straight from Open is invalid
	if _, err := svc.Escalate(ctx, d.ID, arbitratorAddr); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("escalate from open: got %v, want ErrInvalidStatus", err)
	}

	d, err := svc.BeginReview(ctx, d.ID, arbitratorAddr)
	if err != nil {
		t.Fatalf("begin review: %v", err)
	}
	if d.Status != StatusUnderReview {
		t.Errorf("status = %s, want under_review", d.Status)
	}

	d, err = svc.RequestEvidence(ctx, d.ID, arbitratorAddr)
	if err != nil {
		t.Fatalf("request evidence: %v", err)
	}
	if d.Status != StatusAwaitingEvidence {
		t.Errorf("status = %s, want awaiting_evidence", d.Status)
	}

	// AwaitingEvidence still accepts evidence, then escalates
	if _, err := svc.SubmitEvidence(ctx, d.ID, payerAddr, "ipfs://more", ""); err != nil {
		t.Fatalf("evidence while awaiting: %v", err)
	}
	d, err = svc.Escalate(ctx, d.ID, arbitratorAddr)
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if d.Status != StatusInArbitration {
		t.Errorf("status = %s, want in_arbitration", d.Status)
	}
}

func TestTransition_RequiresArbitrator(t *testing.T) {
	svc, _ := newTestService(t)
	d := fileTestDispute(t, svc)

	_, err := svc.BeginReview(context.Background(), d.ID, payerAddr)
	if !errors.Is(err, ErrNotArbitrator) {
		t.Errorf("got %v, want ErrNotArbitrator", err)
	}
}

func TestResolve_Split(t *testing.T) {
	svc, settler := newTestService(t)
	d := fileTestDispute(t, svc)

	resolved, err := svc.Resolve(context.Background(), d.ID, arbitratorAddr, DecisionSplit, 30, "partial delivery")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if resolved.Status != StatusResolved {
		t.Errorf("status = %s, want resolved", resolved.Status)
	}
	if resolved.RefundPct != 30 {
		t.Errorf("refundPct = %d, want 30", resolved.RefundPct)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolvedAt not set")
	}
	if len(settler.calls) != 1 {
		t.Fatalf("settler calls = %d, want 1", len(settler.calls))
	}
	if settler.calls[0].escrowID != escrowID || settler.calls[0].refundPct != 30 {
		t.Errorf("settler called with %+v", settler.calls[0])
	}
}

func TestResolve_FixedRulingsDeriveRefundPct(t *testing.T) {
	ctx := context.Background()

	svc, settler := newTestService(t)
	d := fileTestDispute(t, svc)
	// refundPct argument is ignored for favor_payer
	resolved, err := svc.Resolve(ctx, d.ID, arbitratorAddr, DecisionFavorPayer, 7, "no delivery")
	if err != nil {
		t.Fatalf("resolve favor_payer: %v", err)
	}
	if resolved.RefundPct != 100 || settler.calls[0].refundPct != 100 {
		t.Errorf("favor_payer refundPct = %d, want 100", resolved.RefundPct)
	}

	svc, settler = newTestService(t)
	d = fileTestDispute(t, svc)
	resolved, err = svc.Resolve(ctx, d.ID, arbitratorAddr, DecisionFavorRecipient, 7, "work delivered")
	if err != nil {
		t.Fatalf("resolve favor_recipient: %v", err)
	}
	if resolved.RefundPct != 0 || settler.calls[0].refundPct != 0 {
		t.Errorf("favor_recipient refundPct = %d, want 0", resolved.RefundPct)
	}
}

func TestResolve_ExactlyOnce(t *testing.T) {
	svc, settler := newTestService(t)
	d := fileTestDispute(t, svc)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, d.ID, arbitratorAddr, DecisionSplit, 50, "split"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Resolve(ctx, d.ID, arbitratorAddr, DecisionFavorPayer, 0, "again")
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("got %v, want ErrAlreadyResolved", err)
	}
	if len(settler.calls) != 1 {
		t.Errorf("settler calls = %d, want exactly 1", len(settler.calls))
	}
}

func TestResolve_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	d := fileTestDispute(t, svc)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, d.ID, payerAddr, DecisionSplit, 50, "x"); !errors.Is(err, ErrNotArbitrator) {
		t.Errorf("non-arbitrator: got %v, want ErrNotArbitrator", err)
	}
	if _, err := svc.Resolve(ctx, d.ID, arbitratorAddr, DecisionSplit, 101, "x"); !errors.Is(err, ErrInvalidRefundPct) {
		t.Errorf("pct 101: got %v, want ErrInvalidRefundPct", err)
	}
	if _, err := svc.Resolve(ctx, d.ID, arbitratorAddr, Decision("coin_flip"), 50, "x"); !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("bad decision: got %v, want ErrInvalidDecision", err)
	}
}

func TestResolve_SettlementFailureReverts(t *testing.T) {
	svc, settler := newTestService(t)
	d := fileTestDispute(t, svc)
	ctx := context.Background()

	settler.failNext = true
	_, err := svc.Resolve(ctx, d.ID, arbitratorAddr, DecisionSplit, 30, "partial")
	if err == nil {
		t.Fatal("expected resolve to fail when settlement fails")
	}

	// Case reverts so the ruling can be retried
	got, err := svc.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusOpen {
		t.Errorf("status after failed settlement = %s, want open", got.Status)
	}
	if got.Decision != "" || got.ResolvedAt != nil {
		t.Error("resolution fields should be cleared after revert")
	}

	// Retry succeeds
	if _, err := svc.Resolve(ctx, d.ID, arbitratorAddr, DecisionSplit, 30, "partial"); err != nil {
		t.Fatalf("retry resolve: %v", err)
	}
	if len(settler.calls) != 1 {
		t.Errorf("settler calls = %d, want 1", len(settler.calls))
	}
}

func TestCancel(t *testing.T) {
	svc, _ := newTestService(t)
	d := fileTestDispute(t, svc)
	ctx := context.Background()

	if _, err := svc.Cancel(ctx, d.ID, recipientAddr); !errors.Is(err, ErrNotParty) {
		t.Errorf("respondent cancel: got %v, want ErrNotParty", err)
	}

	cancelled, err := svc.Cancel(ctx, d.ID, payerAddr)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	// A new dispute may be filed once the old one is terminal
	if _, err := svc.File(ctx, escrowID, payerAddr, recipientAddr, "second attempt"); err != nil {
		t.Errorf("file after cancel: %v", err)
	}
}

func TestCancel_OnlyWhileOpen(t *testing.T) {
	svc, _ := newTestService(t)
	d := fileTestDispute(t, svc)
	ctx := context.Background()

	if _, err := svc.BeginReview(ctx, d.ID, arbitratorAddr); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Cancel(ctx, d.ID, payerAddr)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("got %v, want ErrInvalidStatus", err)
	}
}

func TestListByStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := fileTestDispute(t, svc)
	second, err := svc.File(ctx, "esc_other", recipientAddr, payerAddr, "late delivery")
	if err != nil {
		t.Fatal(err)
	}

	open, err := svc.ListByStatus(ctx, StatusOpen, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open count = %d, want 2", len(open))
	}
	if open[0].ID != first.ID || open[1].ID != second.ID {
		t.Error("disputes not ordered oldest first")
	}
}
