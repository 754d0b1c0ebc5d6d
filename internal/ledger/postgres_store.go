package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables. Amounts are BIGINT base units; CHECK
// constraints prevent overdraft at the DB level.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agent_balances (
			agent_address   VARCHAR(44) PRIMARY KEY,
			available       BIGINT NOT NULL DEFAULT 0,
			escrowed        BIGINT NOT NULL DEFAULT 0,
			total_in        BIGINT NOT NULL DEFAULT 0,
			total_out       BIGINT NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_available_nonneg CHECK (available >= 0),
			CONSTRAINT chk_escrowed_nonneg  CHECK (escrowed >= 0),
			CONSTRAINT chk_total_in_nonneg  CHECK (total_in >= 0),
			CONSTRAINT chk_total_out_nonneg CHECK (total_out >= 0)
		);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id              VARCHAR(36) PRIMARY KEY,
			agent_address   VARCHAR(44) NOT NULL,
			type            VARCHAR(20) NOT NULL,
			amount          BIGINT NOT NULL,
			tx_hash         VARCHAR(128),
			reference       VARCHAR(255),
			description     TEXT,
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_agent ON ledger_entries(agent_address);
		CREATE INDEX IF NOT EXISTS idx_ledger_tx ON ledger_entries(tx_hash);
		CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger_entries(created_at DESC);
	`)
	return err
}

// GetBalance retrieves an agent's balance
func (p *PostgresStore) GetBalance(ctx context.Context, agentAddr string) (*Balance, error) {
	bal := &Balance{AgentAddr: agentAddr}
	var available, escrowed, totalIn, totalOut int64

	err := p.db.QueryRowContext(ctx, `
		SELECT available, escrowed, total_in, total_out, updated_at
		FROM agent_balances WHERE agent_address = $1
	`, agentAddr).Scan(&available, &escrowed, &totalIn, &totalOut, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Balance{AgentAddr: agentAddr, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}

	bal.Available = uint64(available)
	bal.Escrowed = uint64(escrowed)
	bal.TotalIn = uint64(totalIn)
	bal.TotalOut = uint64(totalOut)
	return bal, nil
}

// Credit adds funds to an agent's balance
func (p *PostgresStore) Credit(ctx context.Context, agentAddr string, amount uint64, txHash, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := creditTx(ctx, tx, agentAddr, amount); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, agent_address, type, amount, tx_hash, description, created_at)
		VALUES ($1, $2, 'deposit', $3, $4, $5, NOW())
	`, idgen.WithPrefix("ent_"), agentAddr, int64(amount), txHash, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// Withdraw processes a withdrawal with an atomic debit.
// The CHECK constraint on available >= 0 prevents overdraft at the DB level.
func (p *PostgresStore) Withdraw(ctx context.Context, agentAddr string, amount uint64, txHash string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE agent_balances SET
			available  = available - $2,
			total_out  = total_out + $2,
			updated_at = NOW()
		WHERE agent_address = $1
	`, agentAddr, int64(amount))
	if err != nil {
		// CHECK constraint violation means insufficient balance
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAgentNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, agent_address, type, amount, tx_hash, description, created_at)
		VALUES ($1, $2, 'withdrawal', $3, $4, 'withdrawal', NOW())
	`, idgen.WithPrefix("ent_"), agentAddr, int64(amount), txHash)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// EscrowLock moves funds from available to escrowed.
func (p *PostgresStore) EscrowLock(ctx context.Context, agentAddr string, amount uint64, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE agent_balances SET
			available  = available - $2,
			escrowed   = escrowed  + $2,
			updated_at = NOW()
		WHERE agent_address = $1
	`, agentAddr, int64(amount))
	if err != nil {
		return fmt.Errorf("failed to lock escrow: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAgentNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, agent_address, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'escrow_lock', $3, $4, 'escrow_locked', NOW())
	`, idgen.WithPrefix("ent_"), agentAddr, int64(amount), reference)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// ReleaseEscrow settles escrowed funds to the recipient, crediting the
// protocol fee to the treasury.
func (p *PostgresStore) ReleaseEscrow(ctx context.Context, payerAddr, recipientAddr string, amount, fee uint64, treasuryAddr, reference string) error {
	if fee > amount {
		return ErrInvalidAmount
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE agent_balances SET
			escrowed   = escrowed  - $2,
			total_out  = total_out + $2,
			updated_at = NOW()
		WHERE agent_address = $1
	`, payerAddr, int64(amount))
	if err != nil {
		return fmt.Errorf("failed to debit payer escrow: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAgentNotFound
	}

	if err := creditTx(ctx, tx, recipientAddr, amount-fee); err != nil {
		return err
	}
	if fee > 0 {
		if err := creditTx(ctx, tx, treasuryAddr, fee); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, agent_address, type, amount, reference, description, created_at)
			VALUES ($1, $2, 'fee', $3, $4, 'protocol_fee', NOW())
		`, idgen.WithPrefix("ent_"), treasuryAddr, int64(fee), reference)
		if err != nil {
			return fmt.Errorf("failed to record fee entry: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, agent_address, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'escrow_release', $3, $4, 'escrow_released_to_recipient', NOW())
	`, idgen.WithPrefix("ent_"), payerAddr, int64(amount), reference)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// RefundEscrow returns escrowed funds to the payer's available balance.
func (p *PostgresStore) RefundEscrow(ctx context.Context, agentAddr string, amount uint64, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE agent_balances SET
			escrowed   = escrowed  - $2,
			available  = available + $2,
			updated_at = NOW()
		WHERE agent_address = $1
	`, agentAddr, int64(amount))
	if err != nil {
		return fmt.Errorf("failed to refund escrow: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAgentNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, agent_address, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'escrow_refund', $3, $4, 'escrow_refunded', NOW())
	`, idgen.WithPrefix("ent_"), agentAddr, int64(amount), reference)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// SettleEscrow splits escrowed funds between a payer refund and a recipient
// release in one transaction.
func (p *PostgresStore) SettleEscrow(ctx context.Context, payerAddr, recipientAddr string, refundAmount, releaseAmount, fee uint64, treasuryAddr, reference string) error {
	if fee > releaseAmount {
		return ErrInvalidAmount
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE agent_balances SET
			escrowed   = escrowed  - $2 - $3,
			available  = available + $2,
			total_out  = total_out + $3,
			updated_at = NOW()
		WHERE agent_address = $1
	`, payerAddr, int64(refundAmount), int64(releaseAmount))
	if err != nil {
		return fmt.Errorf("failed to settle payer escrow: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAgentNotFound
	}

	if releaseAmount > 0 {
		if err := creditTx(ctx, tx, recipientAddr, releaseAmount-fee); err != nil {
			return err
		}
		if fee > 0 {
			if err := creditTx(ctx, tx, treasuryAddr, fee); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO ledger_entries (id, agent_address, type, amount, reference, description, created_at)
				VALUES ($1, $2, 'fee', $3, $4, 'protocol_fee', NOW())
			`, idgen.WithPrefix("ent_"), treasuryAddr, int64(fee), reference)
			if err != nil {
				return fmt.Errorf("failed to record fee entry: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, agent_address, type, amount, reference, description, created_at)
			VALUES ($1, $2, 'escrow_release', $3, $4, 'settlement_release', NOW())
		`, idgen.WithPrefix("ent_"), payerAddr, int64(releaseAmount), reference)
		if err != nil {
			return fmt.Errorf("failed to record entry: %w", err)
		}
	}

	if refundAmount > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, agent_address, type, amount, reference, description, created_at)
			VALUES ($1, $2, 'escrow_refund', $3, $4, 'settlement_refund', NOW())
		`, idgen.WithPrefix("ent_"), payerAddr, int64(refundAmount), reference)
		if err != nil {
			return fmt.Errorf("failed to record entry: %w", err)
		}
	}

	return tx.Commit()
}

// creditTx upserts an incoming credit to an agent's available balance
// within an existing transaction.
func creditTx(ctx context.Context, tx *sql.Tx, agentAddr string, amount uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO agent_balances (agent_address, available, total_in, updated_at)
		VALUES ($1, $2, $2, NOW())
		ON CONFLICT (agent_address) DO UPDATE SET
			available  = agent_balances.available + $2,
			total_in   = agent_balances.total_in  + $2,
			updated_at = NOW()
	`, agentAddr, int64(amount))
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", agentAddr, err)
	}
	return nil
}

// GetHistory returns the most recent ledger entries for an agent.
func (p *PostgresStore) GetHistory(ctx context.Context, agentAddr string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, agent_address, type, amount, COALESCE(tx_hash, ''), COALESCE(reference, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE agent_address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, agentAddr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var amount int64
		if err := rows.Scan(&e.ID, &e.AgentAddr, &e.Type, &amount, &e.TxHash, &e.Reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount = uint64(amount)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// HasDeposit reports whether a deposit with the given tx hash was processed.
func (p *PostgresStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries WHERE type = 'deposit' AND tx_hash = $1
		)
	`, txHash).Scan(&exists)
	return exists, err
}
