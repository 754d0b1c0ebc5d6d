package dispute

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the disputes table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS disputes (
			id          VARCHAR(64) PRIMARY KEY,
			escrow_id   VARCHAR(64) NOT NULL,
			initiator   VARCHAR(44) NOT NULL,
			respondent  VARCHAR(44) NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			status      VARCHAR(20) NOT NULL,
			evidence    JSONB NOT NULL DEFAULT '[]',
			decision    VARCHAR(20) NOT NULL DEFAULT '',
			refund_pct  SMALLINT NOT NULL DEFAULT 0 CHECK (refund_pct BETWEEN 0 AND 100),
			reasoning   TEXT NOT NULL DEFAULT '',
			arbitrator  VARCHAR(44) NOT NULL DEFAULT '',
			resolved_at TIMESTAMPTZ,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_disputes_escrow ON disputes(escrow_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes(status, created_at);
	`)
	return err
}

func (p *PostgresStore) CreateDispute(ctx context.Context, d *Dispute) error {
	evidenceJSON, err := marshalEvidence(d.Evidence)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO disputes
			(id, escrow_id, initiator, respondent, reason, status, evidence,
			 decision, refund_pct, reasoning, arbitrator, resolved_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err = p.db.ExecContext(ctx, q,
		d.ID, d.EscrowID, d.Initiator, d.Respondent, d.Reason, string(d.Status), evidenceJSON,
		string(d.Decision), int(d.RefundPct), d.Reasoning, d.Arbitrator, d.ResolvedAt,
		d.CreatedAt, d.UpdatedAt)
	return err
}

func (p *PostgresStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	const q = selectDispute + ` WHERE id = $1`
	return scanDispute(p.db.QueryRowContext(ctx, q, id))
}

func (p *PostgresStore) GetByEscrow(ctx context.Context, escrowID string) (*Dispute, error) {
	const q = selectDispute + ` WHERE escrow_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanDispute(p.db.QueryRowContext(ctx, q, escrowID))
}

func (p *PostgresStore) UpdateDispute(ctx context.Context, d *Dispute) error {
	evidenceJSON, err := marshalEvidence(d.Evidence)
	if err != nil {
		return err
	}

	const q = `
		UPDATE disputes
		SET status = $2, evidence = $3, decision = $4, refund_pct = $5,
		    reasoning = $6, arbitrator = $7, resolved_at = $8, updated_at = $9
		WHERE id = $1`

	res, err := p.db.ExecContext(ctx, q,
		d.ID, string(d.Status), evidenceJSON, string(d.Decision), int(d.RefundPct),
		d.Reasoning, d.Arbitrator, d.ResolvedAt, d.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = selectDispute + ` WHERE status = $1 ORDER BY created_at ASC LIMIT $2`

	rows, err := p.db.QueryContext(ctx, q, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Dispute
	for rows.Next() {
		d, err := scanDisputeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const selectDispute = `
	SELECT id, escrow_id, initiator, respondent, reason, status, evidence,
	       decision, refund_pct, reasoning, arbitrator, resolved_at, created_at, updated_at
	FROM disputes`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDispute(row *sql.Row) (*Dispute, error) {
	d, err := scanDisputeRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func scanDisputeRow(row rowScanner) (*Dispute, error) {
	d := &Dispute{}
	var status, decision string
	var refundPct int
	var evidenceJSON []byte
	var resolvedAt sql.NullTime

	err := row.Scan(&d.ID, &d.EscrowID, &d.Initiator, &d.Respondent, &d.Reason,
		&status, &evidenceJSON, &decision, &refundPct, &d.Reasoning, &d.Arbitrator,
		&resolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.Decision = Decision(decision)
	d.RefundPct = uint8(refundPct)
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		d.ResolvedAt = &t
	}
	if len(evidenceJSON) > 0 {
		_ = json.Unmarshal(evidenceJSON, &d.Evidence)
	}
	return d, nil
}

func marshalEvidence(evidence []Evidence) ([]byte, error) {
	if evidence == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(evidence)
}
