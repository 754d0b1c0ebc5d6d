// Package dispute implements the dispute case attached to an escrow.
//
// A dispute walks Open → UnderReview → AwaitingEvidence/InArbitration →
// Resolved. Evidence is append-only while the case is open for submissions.
// Resolution is written exactly once, by an authorized arbitrator, and
// triggers the escrow fund split.
package dispute

import (
	"errors"
	"time"
)

var (
	ErrDisputeNotFound  = errors.New("dispute not found")
	ErrInvalidStatus    = errors.New("invalid status for this operation")
	ErrAlreadyResolved  = errors.New("dispute already resolved")
	ErrNotArbitrator    = errors.New("caller is not an authorized arbitrator")
	ErrNotParty         = errors.New("caller is not a party to this dispute")
	ErrInvalidRefundPct = errors.New("refund percentage must be 0-100")
	ErrInvalidDecision  = errors.New("unknown resolution decision")
	ErrEvidenceClosed   = errors.New("dispute no longer accepts evidence")
	ErrDuplicateDispute = errors.New("escrow already has an open dispute")
)

// Status represents the state of a dispute case.
type Status string

const (
	StatusOpen             Status = "open"
	StatusUnderReview      Status = "under_review"
	StatusAwaitingEvidence Status = "awaiting_evidence"
	StatusInArbitration    Status = "in_arbitration"
	StatusResolved         Status = "resolved"
	StatusCancelled        Status = "cancelled"
)

// Decision is the arbitrator's ruling.
type Decision string

const (
	DecisionFavorPayer     Decision = "favor_payer"     // full refund
	DecisionFavorRecipient Decision = "favor_recipient" // full release
	DecisionSplit          Decision = "split"           // refundPct to payer, rest released
)

// Evidence is one append-only submission on a dispute.
type Evidence struct {
	Submitter   string    `json:"submitter"`
	URI         string    `json:"uri"`
	Description string    `json:"description,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Dispute is a case attached to a disputed escrow.
type Dispute struct {
	ID         string     `json:"id"`
	EscrowID   string     `json:"escrowId"`
	Initiator  string     `json:"initiator"`
	Respondent string     `json:"respondent"`
	Reason     string     `json:"reason"`
	Status     Status     `json:"status"`
	Evidence   []Evidence `json:"evidence"`

	// Resolution, written exactly once
	Decision   Decision   `json:"decision,omitempty"`
	RefundPct  uint8      `json:"refundPct"` // payer refund percentage 0-100
	Reasoning  string     `json:"reasoning,omitempty"`
	Arbitrator string     `json:"arbitrator,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal returns true if the dispute is in a final state.
func (d *Dispute) IsTerminal() bool {
	return d.Status == StatusResolved || d.Status == StatusCancelled
}

// acceptsEvidence reports whether evidence may still be appended.
func (d *Dispute) acceptsEvidence() bool {
	switch d.Status {
	case StatusOpen, StatusAwaitingEvidence, StatusUnderReview:
		return true
	}
	return false
}

// refundPctFor maps a decision onto the payer refund percentage.
// Split carries the arbitrator-supplied percentage; the fixed rulings
// ignore it.
func refundPctFor(decision Decision, pct uint8) (uint8, error) {
	switch decision {
	case DecisionFavorPayer:
		return 100, nil
	case DecisionFavorRecipient:
		return 0, nil
	case DecisionSplit:
		if pct > 100 {
			return 0, ErrInvalidRefundPct
		}
		return pct, nil
	default:
		return 0, ErrInvalidDecision
	}
}
