package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/events"
	"github.com/ghostspeak/ghostspeak/internal/idgen"
	"github.com/ghostspeak/ghostspeak/internal/metrics"
)

// Store persists dispute cases.
type Store interface {
	CreateDispute(ctx context.Context, d *Dispute) error
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	GetByEscrow(ctx context.Context, escrowID string) (*Dispute, error)
	UpdateDispute(ctx context.Context, d *Dispute) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error)
}

// EscrowSettler splits the escrowed funds once a dispute is resolved.
// Implemented by the escrow service.
type EscrowSettler interface {
	SettleDispute(ctx context.Context, escrowID string, refundPct uint8, reasoning string) error
}

// Service implements dispute business logic.
type Service struct {
	store       Store
	settler     EscrowSettler
	arbitrators map[string]bool
	emitter     *events.Emitter
	logger      *slog.Logger
}

// NewService creates a dispute service. arbitrators is the configured
// authority list allowed to review and resolve cases.
func NewService(store Store, arbitrators []string, emitter *events.Emitter, logger *slog.Logger) *Service {
	authorized := make(map[string]bool, len(arbitrators))
	for _, a := range arbitrators {
		authorized[a] = true
	}
	return &Service{
		store:       store,
		arbitrators: authorized,
		emitter:     emitter,
		logger:      logger,
	}
}

// SetSettler wires the escrow settlement hook. Set after construction to
// break the escrow↔dispute dependency at wiring time.
func (s *Service) SetSettler(settler EscrowSettler) {
	s.settler = settler
}

// IsArbitrator reports whether an address is on the authority list.
func (s *Service) IsArbitrator(addr string) bool {
	return s.arbitrators[addr]
}

// File opens a dispute case for an escrow. One live case per escrow.
func (s *Service) File(ctx context.Context, escrowID, initiator, respondent, reason string) (*Dispute, error) {
	existing, err := s.store.GetByEscrow(ctx, escrowID)
	if err != nil && err != ErrDisputeNotFound {
		return nil, fmt.Errorf("checking existing dispute: %w", err)
	}
	if existing != nil && !existing.IsTerminal() {
		return nil, ErrDuplicateDispute
	}

	now := time.Now()
	d := &Dispute{
		ID:         idgen.WithPrefix("dsp_"),
		EscrowID:   escrowID,
		Initiator:  initiator,
		Respondent: respondent,
		Reason:     reason,
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateDispute(ctx, d); err != nil {
		return nil, fmt.Errorf("storing dispute: %w", err)
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusOpen)).Inc()
	s.emitter.EmitDisputeFiled(d.ID, escrowID, initiator)
	s.logger.Info("dispute filed", "dispute", d.ID, "escrow", escrowID, "initiator", initiator)
	return d, nil
}

// SubmitEvidence appends an evidence entry. Only the parties and
// arbitrators may submit, and only while the case accepts evidence.
func (s *Service) SubmitEvidence(ctx context.Context, disputeID, submitter, uri, description string) (*Dispute, error) {
	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.acceptsEvidence() {
		return nil, ErrEvidenceClosed
	}
	if submitter != d.Initiator && submitter != d.Respondent && !s.IsArbitrator(submitter) {
		return nil, ErrNotParty
	}

	d.Evidence = append(d.Evidence, Evidence{
		Submitter:   submitter,
		URI:         uri,
		Description: description,
		SubmittedAt: time.Now(),
	})
	d.UpdatedAt = time.Now()
	if err := s.store.UpdateDispute(ctx, d); err != nil {
		return nil, fmt.Errorf("updating dispute: %w", err)
	}

	s.emitter.EmitDisputeEvidence(d.ID, submitter)
	return d, nil
}

// BeginReview moves an open case under arbitrator review.
func (s *Service) BeginReview(ctx context.Context, disputeID, arbitrator string) (*Dispute, error) {
	return s.transition(ctx, disputeID, arbitrator, StatusUnderReview, StatusOpen)
}

// RequestEvidence asks the parties for more evidence during review.
func (s *Service) RequestEvidence(ctx context.Context, disputeID, arbitrator string) (*Dispute, error) {
	return s.transition(ctx, disputeID, arbitrator, StatusAwaitingEvidence, StatusUnderReview)
}

// Escalate moves a case from review into formal arbitration.
func (s *Service) Escalate(ctx context.Context, disputeID, arbitrator string) (*Dispute, error) {
	return s.transition(ctx, disputeID, arbitrator, StatusInArbitration, StatusUnderReview, StatusAwaitingEvidence)
}

func (s *Service) transition(ctx context.Context, disputeID, arbitrator string, to Status, from ...Status) (*Dispute, error) {
	if !s.IsArbitrator(arbitrator) {
		return nil, ErrNotArbitrator
	}
	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, f := range from {
		if d.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrInvalidStatus
	}

	d.Status = to
	d.UpdatedAt = time.Now()
	if err := s.store.UpdateDispute(ctx, d); err != nil {
		return nil, fmt.Errorf("updating dispute: %w", err)
	}

	metrics.DisputesTotal.WithLabelValues(string(to)).Inc()
	s.logger.Info("dispute transitioned", "dispute", d.ID, "status", to, "arbitrator", arbitrator)
	return d, nil
}

// Resolve writes the resolution exactly once and triggers the escrow fund
// split. The dispute is marked resolved before the transfer; if settlement
// fails the status is reverted so the ruling can be retried.
func (s *Service) Resolve(ctx context.Context, disputeID, arbitrator string, decision Decision, refundPct uint8, reasoning string) (*Dispute, error) {
	if !s.IsArbitrator(arbitrator) {
		return nil, ErrNotArbitrator
	}

	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusResolved {
		return nil, ErrAlreadyResolved
	}
	if d.Status == StatusCancelled {
		return nil, ErrInvalidStatus
	}

	pct, err := refundPctFor(decision, refundPct)
	if err != nil {
		return nil, err
	}

	prevStatus := d.Status
	now := time.Now()
	d.Status = StatusResolved
	d.Decision = decision
	d.RefundPct = pct
	d.Reasoning = reasoning
	d.Arbitrator = arbitrator
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if err := s.store.UpdateDispute(ctx, d); err != nil {
		return nil, fmt.Errorf("recording resolution: %w", err)
	}

	if s.settler != nil {
		if err := s.settler.SettleDispute(ctx, d.EscrowID, pct, reasoning); err != nil {
			d.Status = prevStatus
			d.Decision = ""
			d.RefundPct = 0
			d.Reasoning = ""
			d.Arbitrator = ""
			d.ResolvedAt = nil
			d.UpdatedAt = time.Now()
			if revertErr := s.store.UpdateDispute(ctx, d); revertErr != nil {
				s.logger.Error("CRITICAL: dispute resolution revert failed, case stuck resolved without settlement",
					"dispute", d.ID, "escrow", d.EscrowID, "settleError", err, "revertError", revertErr)
			}
			return nil, fmt.Errorf("settling escrow: %w", err)
		}
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusResolved)).Inc()
	s.emitter.EmitDisputeResolved(d.ID, d.EscrowID, string(decision), pct)
	s.logger.Info("dispute resolved",
		"dispute", d.ID, "escrow", d.EscrowID, "decision", decision, "refundPct", pct)
	return d, nil
}

// Cancel withdraws an open dispute. Only the initiator, only while Open.
func (s *Service) Cancel(ctx context.Context, disputeID, caller string) (*Dispute, error) {
	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if caller != d.Initiator {
		return nil, ErrNotParty
	}
	if d.Status != StatusOpen {
		return nil, ErrInvalidStatus
	}

	d.Status = StatusCancelled
	d.UpdatedAt = time.Now()
	if err := s.store.UpdateDispute(ctx, d); err != nil {
		return nil, fmt.Errorf("updating dispute: %w", err)
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.logger.Info("dispute cancelled", "dispute", d.ID, "escrow", d.EscrowID)
	return d, nil
}

// Get fetches a dispute by ID.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.GetDispute(ctx, id)
}

// GetByEscrow fetches the dispute attached to an escrow.
func (s *Service) GetByEscrow(ctx context.Context, escrowID string) (*Dispute, error) {
	return s.store.GetByEscrow(ctx, escrowID)
}

// ListByStatus returns disputes in a given state, oldest first.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	return s.store.ListByStatus(ctx, status, limit)
}
