package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists escrow data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the escrows table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS escrows (
			id VARCHAR(64) PRIMARY KEY,
			payer VARCHAR(44) NOT NULL,
			recipient VARCHAR(44) NOT NULL,
			amount BIGINT NOT NULL CHECK (amount >= 0),
			fee_bps SMALLINT NOT NULL DEFAULT 0 CHECK (fee_bps BETWEEN 0 AND 10000),
			description TEXT NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			funded BOOLEAN NOT NULL DEFAULT FALSE,
			proof_uri TEXT NOT NULL DEFAULT '',
			submitted_at TIMESTAMPTZ,
			milestones JSONB NOT NULL DEFAULT '[]',
			released_amount BIGINT NOT NULL DEFAULT 0 CHECK (released_amount >= 0),
			dispute_id VARCHAR(64) NOT NULL DEFAULT '',
			funded_at TIMESTAMPTZ,
			expires_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_escrows_payer ON escrows(payer, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_escrows_recipient ON escrows(recipient, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_escrows_expiry ON escrows(expires_at) WHERE status = 'active';
	`)
	if err != nil {
		return fmt.Errorf("migrating escrows schema: %w", err)
	}
	return nil
}

const escrowColumns = `id, payer, recipient, amount, fee_bps, description, status, funded,
	       proof_uri, submitted_at, milestones, released_amount, dispute_id,
	       funded_at, expires_at, completed_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	milestonesJSON, err := marshalMilestones(e.Milestones)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		e.ID, e.Payer, e.Recipient, int64(e.Amount), int16(e.FeeBps), e.Description,
		string(e.Status), e.Funded, e.ProofURI, nullTime(e.SubmittedAt), milestonesJSON,
		int64(e.ReleasedAmount), e.DisputeID, nullTime(e.FundedAt), e.ExpiresAt,
		nullTime(e.CompletedAt), e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return scanEscrow(row)
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	milestonesJSON, err := marshalMilestones(e.Milestones)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			status = $2, funded = $3, proof_uri = $4, submitted_at = $5,
			milestones = $6, released_amount = $7, dispute_id = $8,
			funded_at = $9, completed_at = $10, updated_at = $11
		WHERE id = $1`,
		e.ID, string(e.Status), e.Funded, e.ProofURI, nullTime(e.SubmittedAt),
		milestonesJSON, int64(e.ReleasedAmount), e.DisputeID,
		nullTime(e.FundedAt), nullTime(e.CompletedAt), e.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAgent(ctx context.Context, agentAddr string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE payer = $1 OR recipient = $1
		ORDER BY created_at DESC
		LIMIT $2`, agentAddr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func (p *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM escrows GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func (p *PostgresStore) SumVolume(ctx context.Context) (total, released uint64, err error) {
	var t, r sql.NullInt64
	err = p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0), COALESCE(SUM(released_amount), 0) FROM escrows`,
	).Scan(&t, &r)
	if err != nil {
		return 0, 0, err
	}
	return uint64(t.Int64), uint64(r.Int64), nil
}

func marshalMilestones(milestones []Milestone) ([]byte, error) {
	if milestones == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(milestones)
	if err != nil {
		return nil, fmt.Errorf("encoding milestones: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row rowScanner) (*Escrow, error) {
	var (
		e              Escrow
		amount         int64
		feeBps         int16
		status         string
		milestonesJSON []byte
		released       int64
		submittedAt    sql.NullTime
		fundedAt       sql.NullTime
		completedAt    sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.Payer, &e.Recipient, &amount, &feeBps, &e.Description, &status, &e.Funded,
		&e.ProofURI, &submittedAt, &milestonesJSON, &released, &e.DisputeID,
		&fundedAt, &e.ExpiresAt, &completedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Amount = uint64(amount)
	e.FeeBps = uint16(feeBps)
	e.Status = Status(status)
	e.ReleasedAmount = uint64(released)
	if err := json.Unmarshal(milestonesJSON, &e.Milestones); err != nil {
		return nil, fmt.Errorf("decoding milestones: %w", err)
	}
	if len(e.Milestones) == 0 {
		e.Milestones = nil
	}
	if submittedAt.Valid {
		t := submittedAt.Time.UTC()
		e.SubmittedAt = &t
	}
	if fundedAt.Valid {
		t := fundedAt.Time.UTC()
		e.FundedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		e.CompletedAt = &t
	}
	e.ExpiresAt = e.ExpiresAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func collectEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var out []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
