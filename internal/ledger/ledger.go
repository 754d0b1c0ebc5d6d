// Package ledger tracks agent token balances on the platform.
//
// Flow:
//  1. Agent deposits tokens to the platform address
//  2. Platform credits agent's balance
//  3. Escrows lock funds (available -> escrowed) until settlement
//  4. Settlement releases to the recipient, refunds the payer, or both
//
// All amounts are uint64 base units (6 decimals). Arithmetic goes through
// the token package so overflow fails loudly instead of wrapping.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/token"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateDeposit    = errors.New("deposit already processed")
)

// Entry represents a ledger entry
type Entry struct {
	ID          string    `json:"id"`
	AgentAddr   string    `json:"agentAddr"`
	Type        string    `json:"type"` // deposit, withdrawal, escrow_lock, escrow_release, escrow_refund, fee
	Amount      uint64    `json:"amount"`
	TxHash      string    `json:"txHash,omitempty"`
	Reference   string    `json:"reference,omitempty"` // escrow ID, dispute ID, etc.
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Balance represents an agent's balance in base units.
type Balance struct {
	AgentAddr string    `json:"agentAddr"`
	Available uint64    `json:"available"` // Can be spent or locked
	Escrowed  uint64    `json:"escrowed"`  // Locked in active escrows
	TotalIn   uint64    `json:"totalIn"`   // Lifetime deposits + receipts
	TotalOut  uint64    `json:"totalOut"`  // Lifetime withdrawals + spending
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists ledger data
type Store interface {
	GetBalance(ctx context.Context, agentAddr string) (*Balance, error)
	Credit(ctx context.Context, agentAddr string, amount uint64, txHash, description string) error
	Withdraw(ctx context.Context, agentAddr string, amount uint64, txHash string) error
	EscrowLock(ctx context.Context, agentAddr string, amount uint64, reference string) error
	ReleaseEscrow(ctx context.Context, payerAddr, recipientAddr string, amount, fee uint64, treasuryAddr, reference string) error
	RefundEscrow(ctx context.Context, agentAddr string, amount uint64, reference string) error
	SettleEscrow(ctx context.Context, payerAddr, recipientAddr string, refundAmount, releaseAmount, fee uint64, treasuryAddr, reference string) error
	GetHistory(ctx context.Context, agentAddr string, limit int) ([]*Entry, error)
	HasDeposit(ctx context.Context, txHash string) (bool, error)
}

// Ledger manages agent balances. Protocol fees collected on escrow release
// are credited to the configured treasury address.
type Ledger struct {
	store    Store
	treasury string
}

// New creates a new ledger crediting fees to treasuryAddr.
func New(store Store, treasuryAddr string) *Ledger {
	return &Ledger{store: store, treasury: treasuryAddr}
}

// GetBalance returns an agent's current balance
func (l *Ledger) GetBalance(ctx context.Context, agentAddr string) (*Balance, error) {
	return l.store.GetBalance(ctx, agentAddr)
}

// Deposit credits an agent's balance (called when deposit detected on-chain)
func (l *Ledger) Deposit(ctx context.Context, agentAddr string, amount uint64, txHash string) error {
	defer observeOp("deposit")()

	if amount == 0 {
		return ErrInvalidAmount
	}

	// Check for duplicate
	exists, err := l.store.HasDeposit(ctx, txHash)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateDeposit
	}

	return l.store.Credit(ctx, agentAddr, amount, txHash, "deposit")
}

// Withdraw processes a withdrawal request
func (l *Ledger) Withdraw(ctx context.Context, agentAddr string, amount uint64, txHash string) error {
	defer observeOp("withdraw")()

	if amount == 0 {
		return ErrInvalidAmount
	}

	bal, err := l.store.GetBalance(ctx, agentAddr)
	if err != nil {
		return err
	}
	if bal.Available < amount {
		return ErrInsufficientBalance
	}

	return l.store.Withdraw(ctx, agentAddr, amount, txHash)
}

// EscrowLock moves funds from available to escrowed for the given reference.
func (l *Ledger) EscrowLock(ctx context.Context, agentAddr string, amount uint64, reference string) error {
	defer observeOp("escrow_lock")()

	if amount == 0 {
		return ErrInvalidAmount
	}

	bal, err := l.store.GetBalance(ctx, agentAddr)
	if err != nil {
		return err
	}
	if bal.Available < amount {
		return ErrInsufficientBalance
	}

	return l.store.EscrowLock(ctx, agentAddr, amount, reference)
}

// ReleaseEscrow moves the payer's escrowed funds to the recipient, carving
// out the protocol fee for the treasury. amount is the full escrowed amount
// being settled; the recipient receives amount minus fee.
func (l *Ledger) ReleaseEscrow(ctx context.Context, payerAddr, recipientAddr string, amount, fee uint64, reference string) error {
	defer observeOp("escrow_release")()

	if amount == 0 || fee > amount {
		return ErrInvalidAmount
	}
	return l.store.ReleaseEscrow(ctx, payerAddr, recipientAddr, amount, fee, l.treasury, reference)
}

// RefundEscrow returns escrowed funds to the payer's available balance.
func (l *Ledger) RefundEscrow(ctx context.Context, agentAddr string, amount uint64, reference string) error {
	defer observeOp("escrow_refund")()

	if amount == 0 {
		return ErrInvalidAmount
	}
	return l.store.RefundEscrow(ctx, agentAddr, amount, reference)
}

// SettleEscrow splits escrowed funds between a refund to the payer and a
// release to the recipient (used by dispute resolution). The fee applies to
// the released portion only.
func (l *Ledger) SettleEscrow(ctx context.Context, payerAddr, recipientAddr string, refundAmount, releaseAmount, fee uint64, reference string) error {
	defer observeOp("escrow_settle")()

	total, err := token.CheckedAdd(refundAmount, releaseAmount)
	if err != nil {
		return err
	}
	if total == 0 || fee > releaseAmount {
		return ErrInvalidAmount
	}
	return l.store.SettleEscrow(ctx, payerAddr, recipientAddr, refundAmount, releaseAmount, fee, l.treasury, reference)
}

// GetHistory returns ledger entries for an agent
func (l *Ledger) GetHistory(ctx context.Context, agentAddr string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, agentAddr, limit)
}

// CanSpend checks if an agent has sufficient available balance
func (l *Ledger) CanSpend(ctx context.Context, agentAddr string, amount uint64) (bool, error) {
	bal, err := l.store.GetBalance(ctx, agentAddr)
	if err != nil {
		return false, err
	}
	return bal.Available >= amount, nil
}
