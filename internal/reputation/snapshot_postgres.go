package reputation

import (
	"context"
	"database/sql"
	"strconv"
)

// PostgresSnapshotStore implements SnapshotStore backed by PostgreSQL.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore creates a PostgreSQL-backed snapshot store.
func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

// Migrate creates the snapshot table.
func (p *PostgresSnapshotStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reputation_snapshots (
			id             SERIAL PRIMARY KEY,
			address        VARCHAR(44) NOT NULL,
			score          DOUBLE PRECISION NOT NULL,
			tier           VARCHAR(20) NOT NULL,
			success_score  DOUBLE PRECISION NOT NULL,
			rating_score   DOUBLE PRECISION NOT NULL,
			response_score DOUBLE PRECISION NOT NULL,
			volume_score   DOUBLE PRECISION NOT NULL,
			halved         BOOLEAN NOT NULL DEFAULT FALSE,
			total_payments INT NOT NULL,
			total_volume   BIGINT NOT NULL,
			success_rate   DOUBLE PRECISION NOT NULL,
			rating_count   INT NOT NULL,
			created_at     TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_rep_snapshots_addr ON reputation_snapshots(address, created_at DESC);
	`)
	return err
}

func (p *PostgresSnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	const q = `
		INSERT INTO reputation_snapshots
			(address, score, tier, success_score, rating_score, response_score,
			 volume_score, halved, total_payments, total_volume, success_rate, rating_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at`

	return p.db.QueryRowContext(ctx, q,
		snap.Address,
		snap.Score,
		string(snap.Tier),
		snap.SuccessScore,
		snap.RatingScore,
		snap.ResponseScore,
		snap.VolumeScore,
		snap.Halved,
		snap.TotalPayments,
		int64(snap.TotalVolume),
		snap.SuccessRate,
		snap.RatingCount,
	).Scan(&snap.ID, &snap.CreatedAt)
}

func (p *PostgresSnapshotStore) SaveBatch(ctx context.Context, snaps []*Snapshot) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reputation_snapshots
			(address, score, tier, success_score, rating_score, response_score,
			 volume_score, halved, total_payments, total_volume, success_rate, rating_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, s := range snaps {
		_, err := stmt.ExecContext(ctx, s.Address,
			s.Score, string(s.Tier),
			s.SuccessScore, s.RatingScore, s.ResponseScore, s.VolumeScore,
			s.Halved, s.TotalPayments, int64(s.TotalVolume), s.SuccessRate, s.RatingCount)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresSnapshotStore) Query(ctx context.Context, q HistoryQuery) ([]*Snapshot, error) {
	query := `
		SELECT id, address, score, tier,
			   success_score, rating_score, response_score, volume_score, halved,
			   total_payments, total_volume, success_rate, rating_count, created_at
		FROM reputation_snapshots
		WHERE address = $1`

	args := []interface{}{q.Address}
	argIdx := 2

	if !q.From.IsZero() {
		query += " AND created_at >= $" + strconv.Itoa(argIdx)
		args = append(args, q.From)
		argIdx++
	}
	if !q.To.IsZero() {
		query += " AND created_at <= $" + strconv.Itoa(argIdx)
		args = append(args, q.To)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT $" + strconv.Itoa(argIdx)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSnapshots(rows)
}

func (p *PostgresSnapshotStore) Latest(ctx context.Context, address string) (*Snapshot, error) {
	const q = `
		SELECT id, address, score, tier,
			   success_score, rating_score, response_score, volume_score, halved,
			   total_payments, total_volume, success_rate, rating_count, created_at
		FROM reputation_snapshots
		WHERE address = $1
		ORDER BY created_at DESC
		LIMIT 1`

	row := p.db.QueryRowContext(ctx, q, address)
	s := &Snapshot{}
	var tier string
	var totalVolume int64
	err := row.Scan(&s.ID, &s.Address, &s.Score, &tier,
		&s.SuccessScore, &s.RatingScore, &s.ResponseScore, &s.VolumeScore, &s.Halved,
		&s.TotalPayments, &totalVolume, &s.SuccessRate, &s.RatingCount, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Tier = Tier(tier)
	s.TotalVolume = uint64(totalVolume)
	return s, nil
}

func scanSnapshots(rows *sql.Rows) ([]*Snapshot, error) {
	var out []*Snapshot
	for rows.Next() {
		s := &Snapshot{}
		var tier string
		var totalVolume int64
		if err := rows.Scan(&s.ID, &s.Address, &s.Score, &tier,
			&s.SuccessScore, &s.RatingScore, &s.ResponseScore, &s.VolumeScore, &s.Halved,
			&s.TotalPayments, &totalVolume, &s.SuccessRate, &s.RatingCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Tier = Tier(tier)
		s.TotalVolume = uint64(totalVolume)
		out = append(out, s)
	}
	return out, rows.Err()
}
