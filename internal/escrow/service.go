package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/events"
	"github.com/ghostspeak/ghostspeak/internal/guard"
	"github.com/ghostspeak/ghostspeak/internal/idgen"
	"github.com/ghostspeak/ghostspeak/internal/metrics"
	"github.com/ghostspeak/ghostspeak/internal/token"
)

// Service implements the escrow state machine.
type Service struct {
	store      Store
	ledger     LedgerService
	guards     *guard.Registry
	disputes   DisputeFiler
	reputation ReputationRecorder
	emitter    *events.Emitter
	feeBps     uint16
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a new escrow service. feeBps is the platform fee in
// basis points applied to released funds.
func NewService(store Store, ledger LedgerService, guards *guard.Registry, feeBps uint16, emitter *events.Emitter, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		ledger:  ledger,
		guards:  guards,
		emitter: emitter,
		feeBps:  feeBps,
		logger:  logger,
		now:     time.Now,
	}
}

// WithDisputeFiler wires dispute case creation.
func (s *Service) WithDisputeFiler(f DisputeFiler) *Service {
	s.disputes = f
	return s
}

// WithReputationRecorder wires settlement recording for reputation scoring.
func (s *Service) WithReputationRecorder(r ReputationRecorder) *Service {
	s.reputation = r
	return s
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// lock acquires the per-escrow reentrancy guard. A held lock rejects the
// call instead of blocking: a re-entrant call during settlement must fail.
func (s *Service) lock(id string) (func(), error) {
	release, err := s.guards.Lock(id)
	if err != nil {
		metrics.ReentrancyRejectionsTotal.Inc()
		return nil, err
	}
	return release, nil
}

// Create creates a new escrow. No funds move until Fund.
func (s *Service) Create(ctx context.Context, payer string, req CreateRequest) (*Escrow, error) {
	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	now := s.now()
	if !req.ExpiresAt.After(now) {
		return nil, ErrInvalidExpiration
	}
	if payer == req.Recipient {
		return nil, ErrSameParty
	}

	milestones, err := buildMilestones(req.Amount, req.Milestones)
	if err != nil {
		return nil, err
	}

	e := &Escrow{
		ID:          idgen.WithPrefix("esc_"),
		Payer:       payer,
		Recipient:   req.Recipient,
		Amount:      req.Amount,
		FeeBps:      s.feeBps,
		Description: req.Description,
		Status:      StatusActive,
		Milestones:  milestones,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("storing escrow: %w", err)
	}

	metrics.EscrowsTotal.WithLabelValues(string(StatusActive)).Inc()
	s.emitter.EmitEscrowCreated(e.ID, e.Payer, e.Recipient, e.Amount)
	s.logger.Info("escrow created",
		"escrow", e.ID, "payer", payer, "recipient", req.Recipient, "amount", req.Amount)
	return e, nil
}

func buildMilestones(total uint64, reqs []MilestoneRequest) ([]Milestone, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	var sum uint64
	milestones := make([]Milestone, len(reqs))
	for i, r := range reqs {
		if r.Amount == 0 {
			return nil, ErrInvalidAmount
		}
		next, err := token.CheckedAdd(sum, r.Amount)
		if err != nil {
			return nil, err
		}
		sum = next
		milestones[i] = Milestone{
			Index:       i,
			Amount:      r.Amount,
			Description: r.Description,
			DueAt:       r.DueAt,
			Status:      MilestonePending,
		}
	}
	if sum > total {
		return nil, ErrMilestoneOverflow
	}
	return milestones, nil
}

// Fund locks the payer's funds into the escrow. The funded flag is recorded
// before the ledger lock and reverted if the lock fails.
func (s *Service) Fund(ctx context.Context, id, caller string) (*Escrow, error) {
	release, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != e.Payer {
		return nil, ErrUnauthorized
	}
	if e.Funded {
		return nil, ErrAlreadyFunded
	}
	if e.Status != StatusActive {
		return nil, ErrInvalidStatus
	}

	now := s.now()
	e.Funded = true
	e.FundedAt = &now
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("updating escrow: %w", err)
	}

	if err := s.ledger.EscrowLock(ctx, e.Payer, e.Amount, e.ID); err != nil {
		e.Funded = false
		e.FundedAt = nil
		e.UpdatedAt = s.now()
		if revertErr := s.store.Update(ctx, e); revertErr != nil {
			s.logger.Error("CRITICAL: escrow marked funded but ledger lock and revert both failed",
				"escrow", e.ID, "lockError", err, "revertError", revertErr)
		}
		return nil, fmt.Errorf("locking funds: %w", err)
	}

	s.emitter.EmitEscrowFunded(e.ID, e.Payer, e.Amount)
	s.logger.Info("escrow funded", "escrow", e.ID, "amount", e.Amount)
	return e, nil
}

// SubmitWork records the recipient's delivery, for the whole escrow or a
// single milestone.
func (s *Service) SubmitWork(ctx context.Context, id, caller string, req SubmitWorkRequest) (*Escrow, error) {
	release, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != e.Recipient {
		return nil, ErrUnauthorized
	}
	if e.Status != StatusActive {
		return nil, ErrInvalidStatus
	}
	if !e.Funded {
		return nil, ErrNotFunded
	}

	now := s.now()
	if req.MilestoneIndex != nil {
		idx := *req.MilestoneIndex
		if idx < 0 || idx >= len(e.Milestones) {
			return nil, ErrInvalidMilestone
		}
		if e.Milestones[idx].Status != MilestonePending {
			return nil, ErrWorkAlreadySubmitted
		}
		e.Milestones[idx].Status = MilestoneSubmitted
		e.Milestones[idx].ProofURI = req.ProofURI
		e.Milestones[idx].SubmittedAt = &now
	} else {
		if len(e.Milestones) > 0 {
			return nil, ErrInvalidMilestone
		}
		if e.SubmittedAt != nil {
			return nil, ErrWorkAlreadySubmitted
		}
		e.ProofURI = req.ProofURI
		e.SubmittedAt = &now
	}
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("updating escrow: %w", err)
	}

	s.emitter.EmitWorkSubmitted(e.ID, e.Recipient)
	s.logger.Info("work submitted", "escrow", e.ID, "proof", req.ProofURI)
	return e, nil
}

// Approve releases funds for submitted work: the whole escrow, or one
// milestone. The release is recorded in escrow state before the ledger
// transfer; a failed transfer reverts the state.
func (s *Service) Approve(ctx context.Context, id, caller string, req ApproveRequest) (*Escrow, error) {
	release, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != e.Payer {
		return nil, ErrUnauthorized
	}
	if e.Status != StatusActive {
		return nil, ErrInvalidStatus
	}
	if !e.Funded {
		return nil, ErrNotFunded
	}

	if req.MilestoneIndex != nil {
		return s.approveMilestone(ctx, e, *req.MilestoneIndex)
	}
	return s.approveWhole(ctx, e)
}

func (s *Service) approveWhole(ctx context.Context, e *Escrow) (*Escrow, error) {
	if len(e.Milestones) > 0 {
		return nil, ErrInvalidMilestone
	}
	if e.SubmittedAt == nil {
		return nil, ErrWorkNotSubmitted
	}

	fee, err := token.FeeBps(e.Amount, e.FeeBps)
	if err != nil {
		return nil, err
	}

	prev := *e
	now := s.now()
	e.Status = StatusCompleted
	e.ReleasedAmount = e.Amount
	e.CompletedAt = &now
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("updating escrow: %w", err)
	}

	if err := s.ledger.ReleaseEscrow(ctx, e.Payer, e.Recipient, e.Amount, fee, e.ID); err != nil {
		s.revert(ctx, e, &prev, "release", err)
		return nil, fmt.Errorf("releasing funds: %w", err)
	}

	s.recordSettlement(ctx, e, true)
	metrics.EscrowsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	metrics.EscrowReleasedUnits.Add(float64(e.Amount))
	metrics.EscrowDuration.Observe(now.Sub(e.CreatedAt).Seconds())
	s.emitter.EmitEscrowCompleted(e.ID, e.Payer, e.Recipient, e.Amount)
	s.logger.Info("escrow completed", "escrow", e.ID, "released", e.Amount, "fee", fee)
	return e, nil
}

func (s *Service) approveMilestone(ctx context.Context, e *Escrow, idx int) (*Escrow, error) {
	if idx < 0 || idx >= len(e.Milestones) {
		return nil, ErrInvalidMilestone
	}
	m := &e.Milestones[idx]
	if m.Status == MilestoneApproved {
		return nil, ErrWorkAlreadySubmitted
	}
	if m.Status != MilestoneSubmitted {
		return nil, ErrWorkNotSubmitted
	}

	fee, err := token.FeeBps(m.Amount, e.FeeBps)
	if err != nil {
		return nil, err
	}
	released, err := token.CheckedAdd(e.ReleasedAmount, m.Amount)
	if err != nil {
		return nil, err
	}
	if released > e.Amount {
		return nil, token.ErrArithmeticOverflow
	}

	prev := cloneEscrow(e)
	now := s.now()
	m.Status = MilestoneApproved
	m.ApprovedAt = &now
	e.ReleasedAmount = released

	// Final milestone: any dust between the milestone sum and the escrow
	// total goes back to the payer.
	var dust uint64
	finished := e.milestonesApproved()
	if finished {
		dust = e.Amount - released
		e.Status = StatusCompleted
		e.CompletedAt = &now
	}
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("updating escrow: %w", err)
	}

	if err := s.ledger.ReleaseEscrow(ctx, e.Payer, e.Recipient, m.Amount, fee, e.ID); err != nil {
		s.revert(ctx, e, prev, "milestone release", err)
		return nil, fmt.Errorf("releasing milestone funds: %w", err)
	}
	if dust > 0 {
		if err := s.ledger.RefundEscrow(ctx, e.Payer, dust, e.ID); err != nil {
			s.logger.Error("CRITICAL: milestone dust refund failed, payer funds stuck in escrow",
				"escrow", e.ID, "dust", dust, "error", err)
		}
	}

	metrics.EscrowReleasedUnits.Add(float64(m.Amount))
	if finished {
		s.recordSettlement(ctx, e, true)
		metrics.EscrowsTotal.WithLabelValues(string(StatusCompleted)).Inc()
		metrics.EscrowDuration.Observe(now.Sub(e.CreatedAt).Seconds())
		s.emitter.EmitEscrowCompleted(e.ID, e.Payer, e.Recipient, e.ReleasedAmount)
		s.logger.Info("escrow completed", "escrow", e.ID, "released", e.ReleasedAmount, "dust", dust)
	} else {
		s.logger.Info("milestone approved", "escrow", e.ID, "milestone", idx, "released", m.Amount)
	}
	return e, nil
}

// Cancel refunds the payer in full. Valid only before funding or before
// any work submission.
func (s *Service) Cancel(ctx context.Context, id, caller string) (*Escrow, error) {
	release, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != e.Payer {
		return nil, ErrUnauthorized
	}
	if e.Status != StatusActive {
		return nil, ErrInvalidStatus
	}
	if e.HasSubmission() {
		return nil, ErrWorkAlreadySubmitted
	}

	prev := *e
	now := s.now()
	e.Status = StatusCancelled
	e.CompletedAt = &now
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("updating escrow: %w", err)
	}

	if e.Funded {
		if err := s.ledger.RefundEscrow(ctx, e.Payer, e.Amount, e.ID); err != nil {
			s.revert(ctx, e, &prev, "cancel refund", err)
			return nil, fmt.Errorf("refunding payer: %w", err)
		}
	}

	metrics.EscrowsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.emitter.EmitEscrowCancelled(e.ID, e.Payer, e.Amount)
	s.logger.Info("escrow cancelled", "escrow", e.ID, "refunded", e.Funded)
	return e, nil
}

// Dispute freezes the escrow and opens a dispute case. Either party may
// dispute while the escrow is active and funded.
func (s *Service) Dispute(ctx context.Context, id, caller string, req DisputeRequest) (*Escrow, error) {
	release, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != e.Payer && caller != e.Recipient {
		return nil, ErrUnauthorized
	}
	if e.Status != StatusActive {
		return nil, ErrInvalidStatus
	}
	if !e.Funded {
		return nil, ErrNotFunded
	}

	respondent := e.Recipient
	if caller == e.Recipient {
		respondent = e.Payer
	}

	disputeID := ""
	if s.disputes != nil {
		disputeID, err = s.disputes.File(ctx, e.ID, caller, respondent, req.Reason, req.EvidenceURI)
		if err != nil {
			return nil, fmt.Errorf("filing dispute: %w", err)
		}
	}

	now := s.now()
	e.Status = StatusDisputed
	e.DisputeID = disputeID
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("updating escrow: %w", err)
	}

	metrics.EscrowsTotal.WithLabelValues(string(StatusDisputed)).Inc()
	s.emitter.EmitEscrowDisputed(e.ID, disputeID, caller, req.Reason)
	s.logger.Info("escrow disputed", "escrow", e.ID, "dispute", disputeID, "initiator", caller)
	return e, nil
}

// SettleDispute splits the remaining escrowed funds per the arbitrator's
// ruling: refundPct back to the payer, the rest released to the recipient
// minus the platform fee. Implements the dispute settlement hook.
func (s *Service) SettleDispute(ctx context.Context, escrowID string, refundPct uint8, reasoning string) error {
	release, err := s.lock(escrowID)
	if err != nil {
		return err
	}
	defer release()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return err
	}
	if e.Status != StatusDisputed {
		return ErrInvalidStatus
	}

	remaining := e.RemainingAmount()
	refund, released, err := token.SplitPercent(remaining, refundPct)
	if err != nil {
		return err
	}
	fee, err := token.FeeBps(released, e.FeeBps)
	if err != nil {
		return err
	}

	prev := cloneEscrow(e)
	now := s.now()
	if refund == 0 {
		e.Status = StatusCompleted
	} else {
		e.Status = StatusPartiallyRefunded
	}
	e.ReleasedAmount += released
	e.CompletedAt = &now
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return fmt.Errorf("updating escrow: %w", err)
	}

	if err := s.ledger.SettleEscrow(ctx, e.Payer, e.Recipient, refund, released, fee, e.ID); err != nil {
		s.revert(ctx, e, prev, "dispute settlement", err)
		return fmt.Errorf("settling funds: %w", err)
	}

	s.recordSettlement(ctx, e, refund == 0)
	metrics.EscrowsTotal.WithLabelValues(string(e.Status)).Inc()
	metrics.EscrowReleasedUnits.Add(float64(released))
	metrics.EscrowDuration.Observe(now.Sub(e.CreatedAt).Seconds())
	s.logger.Info("escrow settled by dispute",
		"escrow", e.ID, "refund", refund, "released", released, "fee", fee, "reasoning", reasoning)
	return nil
}

// Expire refunds the payer on a funded escrow whose deadline passed
// without any submission. Called by the expiry timer.
func (s *Service) Expire(ctx context.Context, id string) error {
	release, err := s.lock(id)
	if err != nil {
		return err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != StatusActive {
		return ErrInvalidStatus
	}
	if !s.now().After(e.ExpiresAt) {
		return ErrInvalidStatus
	}
	if e.HasSubmission() {
		return ErrWorkAlreadySubmitted
	}

	prev := *e
	now := s.now()
	e.Status = StatusExpired
	e.CompletedAt = &now
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return fmt.Errorf("updating escrow: %w", err)
	}

	if e.Funded {
		if err := s.ledger.RefundEscrow(ctx, e.Payer, e.Amount, e.ID); err != nil {
			s.revert(ctx, e, &prev, "expiry refund", err)
			return fmt.Errorf("refunding payer: %w", err)
		}
	}

	s.recordSettlement(ctx, e, false)
	metrics.EscrowsTotal.WithLabelValues(string(StatusExpired)).Inc()
	s.emitter.EmitEscrowExpired(e.ID, e.Payer, e.Amount)
	s.logger.Info("escrow expired", "escrow", e.ID, "refunded", e.Funded)
	return nil
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// ListByAgent returns escrows involving an agent (as payer or recipient).
func (s *Service) ListByAgent(ctx context.Context, agentAddr string, limit int) ([]*Escrow, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAgent(ctx, agentAddr, limit)
}

// revert restores the previous escrow state after a failed transfer.
func (s *Service) revert(ctx context.Context, e, prev *Escrow, op string, cause error) {
	*e = *prev
	e.UpdatedAt = s.now()
	if err := s.store.Update(ctx, e); err != nil {
		s.logger.Error("CRITICAL: escrow state revert failed after transfer failure, record inconsistent with ledger",
			"escrow", e.ID, "operation", op, "transferError", cause, "revertError", err)
	}
}

// recordSettlement feeds the reputation ledger. The recipient's response
// time is measured from funding to first submission.
func (s *Service) recordSettlement(ctx context.Context, e *Escrow, success bool) {
	if s.reputation == nil {
		return
	}
	var responseTime time.Duration
	if e.FundedAt != nil {
		if first := firstSubmission(e); first != nil {
			responseTime = first.Sub(*e.FundedAt)
		}
	}
	if err := s.reputation.RecordPayment(ctx, e.Recipient, e.Payer, e.Amount, success, responseTime, e.ID); err != nil {
		s.logger.Warn("failed to record settlement for reputation", "escrow", e.ID, "error", err)
	}
}

func firstSubmission(e *Escrow) *time.Time {
	if e.SubmittedAt != nil {
		return e.SubmittedAt
	}
	var first *time.Time
	for i := range e.Milestones {
		t := e.Milestones[i].SubmittedAt
		if t == nil {
			continue
		}
		if first == nil || t.Before(*first) {
			first = t
		}
	}
	return first
}

func cloneEscrow(e *Escrow) *Escrow {
	cp := *e
	if e.Milestones != nil {
		cp.Milestones = make([]Milestone, len(e.Milestones))
		copy(cp.Milestones, e.Milestones)
	}
	return &cp
}

// IsReentrancy reports whether an error came from the reentrancy guard.
func IsReentrancy(err error) bool {
	return errors.Is(err, guard.ErrReentrancy)
}
