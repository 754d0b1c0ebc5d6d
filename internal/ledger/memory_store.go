package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/idgen"
	"github.com/ghostspeak/ghostspeak/internal/token"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	deposits map[string]bool
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		entries:  make([]*Entry, 0),
		deposits: make(map[string]bool),
	}
}

// getOrCreate returns the balance for agentAddr, creating a zero balance if
// needed. Caller must hold the write lock.
func (m *MemoryStore) getOrCreate(agentAddr string) *Balance {
	bal, ok := m.balances[agentAddr]
	if !ok {
		bal = &Balance{AgentAddr: agentAddr}
		m.balances[agentAddr] = bal
	}
	return bal
}

// record appends a ledger entry. Caller must hold the write lock.
func (m *MemoryStore) record(agentAddr, entryType string, amount uint64, txHash, reference, description string) {
	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("ent_"),
		AgentAddr:   agentAddr,
		Type:        entryType,
		Amount:      amount,
		TxHash:      txHash,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})
}

func (m *MemoryStore) GetBalance(ctx context.Context, agentAddr string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[agentAddr]; ok {
		cp := *bal
		return &cp, nil
	}
	return &Balance{AgentAddr: agentAddr, UpdatedAt: time.Now()}, nil
}

func (m *MemoryStore) Credit(ctx context.Context, agentAddr string, amount uint64, txHash, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.getOrCreate(agentAddr)

	avail, err := token.CheckedAdd(bal.Available, amount)
	if err != nil {
		return err
	}
	totalIn, err := token.CheckedAdd(bal.TotalIn, amount)
	if err != nil {
		return err
	}

	bal.Available = avail
	bal.TotalIn = totalIn
	bal.UpdatedAt = time.Now()

	m.record(agentAddr, "deposit", amount, txHash, "", description)
	m.deposits[txHash] = true

	return nil
}

func (m *MemoryStore) Withdraw(ctx context.Context, agentAddr string, amount uint64, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[agentAddr]
	if !ok {
		return ErrAgentNotFound
	}
	if bal.Available < amount {
		return ErrInsufficientBalance
	}

	totalOut, err := token.CheckedAdd(bal.TotalOut, amount)
	if err != nil {
		return err
	}

	bal.Available -= amount
	bal.TotalOut = totalOut
	bal.UpdatedAt = time.Now()

	m.record(agentAddr, "withdrawal", amount, txHash, "", "withdrawal")

	return nil
}

func (m *MemoryStore) EscrowLock(ctx context.Context, agentAddr string, amount uint64, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[agentAddr]
	if !ok {
		return ErrAgentNotFound
	}
	if bal.Available < amount {
		return ErrInsufficientBalance
	}

	escrowed, err := token.CheckedAdd(bal.Escrowed, amount)
	if err != nil {
		return err
	}

	bal.Available -= amount
	bal.Escrowed = escrowed
	bal.UpdatedAt = time.Now()

	m.record(agentAddr, "escrow_lock", amount, "", reference, "escrow_locked")

	return nil
}

func (m *MemoryStore) ReleaseEscrow(ctx context.Context, payerAddr, recipientAddr string, amount, fee uint64, treasuryAddr, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payerBal, ok := m.balances[payerAddr]
	if !ok {
		return ErrAgentNotFound
	}
	if payerBal.Escrowed < amount {
		return ErrInsufficientBalance
	}
	if fee > amount {
		return ErrInvalidAmount
	}

	if err := m.creditRecipient(recipientAddr, amount-fee); err != nil {
		return err
	}
	if fee > 0 {
		if err := m.creditRecipient(treasuryAddr, fee); err != nil {
			return err
		}
		m.record(treasuryAddr, "fee", fee, "", reference, "protocol_fee")
	}

	totalOut, err := token.CheckedAdd(payerBal.TotalOut, amount)
	if err != nil {
		return err
	}
	payerBal.Escrowed -= amount
	payerBal.TotalOut = totalOut
	payerBal.UpdatedAt = time.Now()

	m.record(payerAddr, "escrow_release", amount, "", reference, "escrow_released_to_recipient")

	return nil
}

func (m *MemoryStore) RefundEscrow(ctx context.Context, agentAddr string, amount uint64, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[agentAddr]
	if !ok {
		return ErrAgentNotFound
	}
	if bal.Escrowed < amount {
		return ErrInsufficientBalance
	}

	avail, err := token.CheckedAdd(bal.Available, amount)
	if err != nil {
		return err
	}

	bal.Escrowed -= amount
	bal.Available = avail
	bal.UpdatedAt = time.Now()

	m.record(agentAddr, "escrow_refund", amount, "", reference, "escrow_refunded")

	return nil
}

func (m *MemoryStore) SettleEscrow(ctx context.Context, payerAddr, recipientAddr string, refundAmount, releaseAmount, fee uint64, treasuryAddr, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	total, err := token.CheckedAdd(refundAmount, releaseAmount)
	if err != nil {
		return err
	}

	payerBal, ok := m.balances[payerAddr]
	if !ok {
		return ErrAgentNotFound
	}
	if payerBal.Escrowed < total {
		return ErrInsufficientBalance
	}
	if fee > releaseAmount {
		return ErrInvalidAmount
	}

	if releaseAmount > 0 {
		if err := m.creditRecipient(recipientAddr, releaseAmount-fee); err != nil {
			return err
		}
		if fee > 0 {
			if err := m.creditRecipient(treasuryAddr, fee); err != nil {
				return err
			}
			m.record(treasuryAddr, "fee", fee, "", reference, "protocol_fee")
		}
	}

	avail, err := token.CheckedAdd(payerBal.Available, refundAmount)
	if err != nil {
		return err
	}
	totalOut, err := token.CheckedAdd(payerBal.TotalOut, releaseAmount)
	if err != nil {
		return err
	}

	payerBal.Escrowed -= total
	payerBal.Available = avail
	payerBal.TotalOut = totalOut
	payerBal.UpdatedAt = time.Now()

	if refundAmount > 0 {
		m.record(payerAddr, "escrow_refund", refundAmount, "", reference, "settlement_refund")
	}
	if releaseAmount > 0 {
		m.record(payerAddr, "escrow_release", releaseAmount, "", reference, "settlement_release")
	}

	return nil
}

// creditRecipient adds incoming funds to an agent's available balance.
// Caller must hold the write lock.
func (m *MemoryStore) creditRecipient(agentAddr string, amount uint64) error {
	bal := m.getOrCreate(agentAddr)

	avail, err := token.CheckedAdd(bal.Available, amount)
	if err != nil {
		return err
	}
	totalIn, err := token.CheckedAdd(bal.TotalIn, amount)
	if err != nil {
		return err
	}

	bal.Available = avail
	bal.TotalIn = totalIn
	bal.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, agentAddr string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].AgentAddr == agentAddr {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

func (m *MemoryStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deposits[txHash], nil
}
