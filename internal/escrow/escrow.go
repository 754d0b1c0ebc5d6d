// Package escrow implements the escrow state machine at the heart of
// GhostSpeak's agent commerce.
//
// Flow:
//  1. Payer creates an escrow (no funds move yet)
//  2. Payer funds it → available → escrowed in the ledger
//  3. Recipient submits work (whole escrow or per milestone)
//  4. Payer approves → funds released minus platform fee
//  5. Either party disputes → arbitrator resolves with a fund split
//  6. Expiry without submission → payer refunded
//
// Every fund transfer happens strictly after the state change is
// durably recorded; a failed transfer triggers a compensating revert.
package escrow

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEscrowNotFound       = errors.New("escrow not found")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidExpiration    = errors.New("expiration must be in the future")
	ErrAlreadyFunded        = errors.New("escrow already funded")
	ErrNotFunded            = errors.New("escrow has not been funded")
	ErrWorkNotSubmitted     = errors.New("no work submission to approve")
	ErrWorkAlreadySubmitted = errors.New("work already submitted")
	ErrInvalidStatus        = errors.New("invalid escrow status for this operation")
	ErrUnauthorized         = errors.New("not authorized for this escrow operation")
	ErrSameParty            = errors.New("payer and recipient cannot be the same address")
	ErrInvalidMilestone     = errors.New("milestone index out of range")
	ErrMilestoneOverflow    = errors.New("milestone amounts exceed escrow total")
)

// Status represents the state of an escrow.
type Status string

const (
	StatusActive            Status = "active"             // Created, possibly funded, work in progress
	StatusCompleted         Status = "completed"          // Funds released to recipient
	StatusDisputed          Status = "disputed"           // Dispute case open, funds frozen
	StatusCancelled         Status = "cancelled"          // Cancelled before work, payer refunded
	StatusPartiallyRefunded Status = "partially_refunded" // Dispute split between the parties
	StatusExpired           Status = "expired"            // Deadline passed without submission, payer refunded
)

// MilestoneStatus represents the state of a single milestone.
type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneSubmitted MilestoneStatus = "submitted"
	MilestoneApproved  MilestoneStatus = "approved"
)

// Milestone is one deliverable within a milestone escrow.
type Milestone struct {
	Index       int             `json:"index"`
	Amount      uint64          `json:"amount"` // base units
	Description string          `json:"description"`
	DueAt       *time.Time      `json:"dueAt,omitempty"`
	Status      MilestoneStatus `json:"status"`
	ProofURI    string          `json:"proofUri,omitempty"`
	SubmittedAt *time.Time      `json:"submittedAt,omitempty"`
	ApprovedAt  *time.Time      `json:"approvedAt,omitempty"`
}

// Escrow holds funds in trust between a payer and a recipient.
type Escrow struct {
	ID          string `json:"id"`
	Payer       string `json:"payer"`
	Recipient   string `json:"recipient"`
	Amount      uint64 `json:"amount"` // base units
	FeeBps      uint16 `json:"feeBps"` // platform fee in basis points
	Description string `json:"description,omitempty"`

	Status Status `json:"status"`
	Funded bool   `json:"funded"`

	// Whole-escrow work submission (unused when milestones are set)
	ProofURI    string     `json:"proofUri,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`

	Milestones     []Milestone `json:"milestones,omitempty"`
	ReleasedAmount uint64      `json:"releasedAmount"` // cumulative released to recipient (pre-fee)

	DisputeID string `json:"disputeId,omitempty"`

	FundedAt    *time.Time `json:"fundedAt,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	switch e.Status {
	case StatusCompleted, StatusCancelled, StatusPartiallyRefunded, StatusExpired:
		return true
	}
	return false
}

// HasSubmission reports whether any work has been submitted.
func (e *Escrow) HasSubmission() bool {
	if e.SubmittedAt != nil {
		return true
	}
	for _, m := range e.Milestones {
		if m.Status != MilestonePending {
			return true
		}
	}
	return false
}

// RemainingAmount is the escrowed amount not yet released.
func (e *Escrow) RemainingAmount() uint64 {
	if e.ReleasedAmount > e.Amount {
		return 0
	}
	return e.Amount - e.ReleasedAmount
}

// milestonesApproved reports whether every milestone is approved.
func (e *Escrow) milestonesApproved() bool {
	for _, m := range e.Milestones {
		if m.Status != MilestoneApproved {
			return false
		}
	}
	return true
}

// Store persists escrow data.
type Store interface {
	Create(ctx context.Context, escrow *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	Update(ctx context.Context, escrow *Escrow) error
	ListByAgent(ctx context.Context, agentAddr string, limit int) ([]*Escrow, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	SumVolume(ctx context.Context) (total, released uint64, err error)
}

// LedgerService abstracts ledger settlement so escrow doesn't import ledger.
type LedgerService interface {
	EscrowLock(ctx context.Context, agentAddr string, amount uint64, reference string) error
	ReleaseEscrow(ctx context.Context, payerAddr, recipientAddr string, amount, fee uint64, reference string) error
	RefundEscrow(ctx context.Context, agentAddr string, amount uint64, reference string) error
	SettleEscrow(ctx context.Context, payerAddr, recipientAddr string, refundAmount, releaseAmount, fee uint64, reference string) error
}

// DisputeFiler opens a dispute case for an escrow.
type DisputeFiler interface {
	File(ctx context.Context, escrowID, initiator, respondent, reason, evidenceURI string) (disputeID string, err error)
}

// ReputationRecorder records settled payments for reputation scoring.
type ReputationRecorder interface {
	RecordPayment(ctx context.Context, agentAddr, counterparty string, amount uint64, success bool, responseTime time.Duration, reference string) error
}

// CreateRequest contains the parameters for creating an escrow.
type CreateRequest struct {
	Recipient   string             `json:"recipient" binding:"required"`
	Amount      uint64             `json:"amount" binding:"required"`
	ExpiresAt   time.Time          `json:"expiresAt" binding:"required"`
	Description string             `json:"description"`
	Milestones  []MilestoneRequest `json:"milestones"`
}

// MilestoneRequest describes one milestone at creation time.
type MilestoneRequest struct {
	Amount      uint64     `json:"amount" binding:"required"`
	Description string     `json:"description"`
	DueAt       *time.Time `json:"dueAt"`
}

// SubmitWorkRequest contains the parameters for submitting work.
type SubmitWorkRequest struct {
	ProofURI       string `json:"proofUri" binding:"required"`
	MilestoneIndex *int   `json:"milestoneIndex"`
}

// ApproveRequest contains the parameters for approving work.
type ApproveRequest struct {
	MilestoneIndex *int `json:"milestoneIndex"`
}

// DisputeRequest contains the parameters for disputing an escrow.
type DisputeRequest struct {
	Reason      string `json:"reason" binding:"required"`
	EvidenceURI string `json:"evidenceUri"`
}
