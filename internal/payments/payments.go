// Package payments records completed x402 payments and feeds them into
// the reputation ledger.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/events"
	"github.com/ghostspeak/ghostspeak/internal/idgen"
	"github.com/ghostspeak/ghostspeak/pkg/x402"
)

var (
	ErrInvalidProof  = errors.New("payment proof is invalid")
	ErrProofMismatch = errors.New("proof sender does not match the caller")
	ErrZeroAmount    = errors.New("payment amount must be greater than zero")
)

// ReputationRecorder records settled payments for reputation scoring.
type ReputationRecorder interface {
	RecordPayment(ctx context.Context, agentAddr, counterparty string, amount uint64, success bool, responseTime time.Duration, reference string) error
}

// Record is a recorded x402 payment.
type Record struct {
	ID         string    `json:"id"`
	Payer      string    `json:"payer"`
	Recipient  string    `json:"recipient"`
	Amount     uint64    `json:"amount"` // base units
	TxHash     string    `json:"txHash"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Service records x402 payments.
type Service struct {
	reputation ReputationRecorder
	emitter    *events.Emitter
	logger     *slog.Logger
}

// NewService creates a payments service.
func NewService(reputation ReputationRecorder, emitter *events.Emitter, logger *slog.Logger) *Service {
	return &Service{reputation: reputation, emitter: emitter, logger: logger}
}

// RecordX402 records a completed x402 payment. The caller must be the
// proof's sender; the payment credits the recipient's reputation.
func (s *Service) RecordX402(ctx context.Context, caller, recipient string, amount uint64, proof *x402.PaymentProof) (*Record, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if proof == nil || proof.TxHash == "" || proof.From == "" {
		return nil, ErrInvalidProof
	}
	if proof.From != caller {
		return nil, ErrProofMismatch
	}

	rec := &Record{
		ID:         idgen.WithPrefix("pay_"),
		Payer:      caller,
		Recipient:  recipient,
		Amount:     amount,
		TxHash:     proof.TxHash,
		RecordedAt: time.Now(),
	}

	if s.reputation != nil {
		if err := s.reputation.RecordPayment(ctx, recipient, caller, amount, true, 0, rec.ID); err != nil {
			s.logger.Warn("failed to record x402 payment for reputation", "payment", rec.ID, "error", err)
		}
	}

	s.emitter.EmitPaymentRecorded(caller, recipient, amount, rec.ID)
	s.logger.Info("x402 payment recorded",
		"payment", rec.ID, "payer", caller, "recipient", recipient, "amount", amount, "tx", proof.TxHash)
	return rec, nil
}
