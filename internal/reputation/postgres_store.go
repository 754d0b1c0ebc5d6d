package reputation

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed reputation store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the reputation tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reputation_payments (
			id               VARCHAR(36) PRIMARY KEY,
			agent_address    VARCHAR(44) NOT NULL,
			counterparty     VARCHAR(44) NOT NULL,
			amount           BIGINT NOT NULL,
			success          BOOLEAN NOT NULL,
			response_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			reference        VARCHAR(255),
			created_at       TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS reputation_ratings (
			id         VARCHAR(36) PRIMARY KEY,
			rater      VARCHAR(44) NOT NULL,
			ratee      VARCHAR(44) NOT NULL,
			rating     SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
			reference  VARCHAR(255),
			created_at TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_rep_payments_agent ON reputation_payments(agent_address);
		CREATE INDEX IF NOT EXISTS idx_rep_payments_created ON reputation_payments(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_rep_ratings_ratee ON reputation_ratings(ratee);
	`)
	return err
}

func (p *PostgresStore) AddPayment(ctx context.Context, pay *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reputation_payments (id, agent_address, counterparty, amount, success, response_seconds, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pay.ID, pay.AgentAddr, pay.Counterparty, int64(pay.Amount), pay.Success, pay.ResponseSeconds, pay.Reference, pay.CreatedAt)
	return err
}

func (p *PostgresStore) AddRating(ctx context.Context, r *Rating) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reputation_ratings (id, rater, ratee, rating, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.Rater, r.Ratee, r.Rating, r.Reference, r.CreatedAt)
	return err
}

func (p *PostgresStore) GetStats(ctx context.Context, agentAddr string) (*Stats, error) {
	stats := &Stats{AgentAddr: agentAddr}

	var totalVolume sql.NullInt64
	var responseSum sql.NullFloat64
	var firstSeen, lastActive sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success),
			COALESCE(SUM(amount), 0),
			COUNT(*) FILTER (WHERE response_seconds > 0),
			COALESCE(SUM(response_seconds) FILTER (WHERE response_seconds > 0), 0),
			MIN(created_at),
			MAX(created_at)
		FROM reputation_payments WHERE agent_address = $1
	`, agentAddr).Scan(
		&stats.TotalPayments,
		&stats.SuccessfulPayments,
		&stats.FailedPayments,
		&totalVolume,
		&stats.ResponseCount,
		&responseSum,
		&firstSeen,
		&lastActive,
	)
	if err != nil {
		return nil, err
	}
	if totalVolume.Valid {
		stats.TotalVolume = uint64(totalVolume.Int64)
	}
	if responseSum.Valid {
		stats.ResponseSecondsSum = responseSum.Float64
	}
	if firstSeen.Valid {
		stats.FirstSeen = firstSeen.Time
	}
	if lastActive.Valid {
		stats.LastActive = lastActive.Time
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(rating), 0)
		FROM reputation_ratings WHERE ratee = $1
	`, agentAddr).Scan(&stats.RatingCount, &stats.RatingSum)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (p *PostgresStore) VolumeSince(ctx context.Context, agentAddr string, since time.Time) (uint64, error) {
	var volume int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM reputation_payments
		WHERE agent_address = $1 AND created_at >= $2
	`, agentAddr, since).Scan(&volume)
	if err != nil {
		return 0, err
	}
	return uint64(volume), nil
}

func (p *PostgresStore) ListAgents(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT agent_address FROM reputation_payments
		UNION
		SELECT ratee FROM reputation_ratings
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		agents = append(agents, addr)
	}
	return agents, rows.Err()
}
