package auction

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed bid store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the bids table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS auction_bids (
			id           VARCHAR(64) PRIMARY KEY,
			auction_id   VARCHAR(64) NOT NULL,
			bidder       VARCHAR(44) NOT NULL,
			commitment   CHAR(64) NOT NULL,
			amount       BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
			nonce        TEXT NOT NULL DEFAULT '',
			status       VARCHAR(20) NOT NULL,
			committed_at TIMESTAMPTZ NOT NULL,
			revealed_at  TIMESTAMPTZ,

			CONSTRAINT uq_auction_bidder UNIQUE (auction_id, bidder)
		);

		CREATE INDEX IF NOT EXISTS idx_auction_bids_auction ON auction_bids(auction_id, committed_at);
	`)
	return err
}

func (p *PostgresStore) CreateBid(ctx context.Context, bid *Bid) error {
	const q = `
		INSERT INTO auction_bids (id, auction_id, bidder, commitment, amount, nonce, status, committed_at, revealed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := p.db.ExecContext(ctx, q,
		bid.ID, bid.AuctionID, bid.Bidder, bid.Commitment,
		int64(bid.Amount), bid.Nonce, string(bid.Status),
		bid.CommittedAt, bid.RevealedAt)
	return err
}

func (p *PostgresStore) GetBid(ctx context.Context, id string) (*Bid, error) {
	const q = `
		SELECT id, auction_id, bidder, commitment, amount, nonce, status, committed_at, revealed_at
		FROM auction_bids WHERE id = $1`

	return scanBid(p.db.QueryRowContext(ctx, q, id))
}

func (p *PostgresStore) UpdateBid(ctx context.Context, bid *Bid) error {
	const q = `
		UPDATE auction_bids
		SET amount = $2, nonce = $3, status = $4, revealed_at = $5
		WHERE id = $1`

	res, err := p.db.ExecContext(ctx, q,
		bid.ID, int64(bid.Amount), bid.Nonce, string(bid.Status), bid.RevealedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBidNotFound
	}
	return nil
}

func (p *PostgresStore) GetBidByBidder(ctx context.Context, auctionID, bidder string) (*Bid, error) {
	const q = `
		SELECT id, auction_id, bidder, commitment, amount, nonce, status, committed_at, revealed_at
		FROM auction_bids WHERE auction_id = $1 AND bidder = $2`

	return scanBid(p.db.QueryRowContext(ctx, q, auctionID, bidder))
}

func (p *PostgresStore) ListBidsByAuction(ctx context.Context, auctionID string, limit int) ([]*Bid, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, auction_id, bidder, commitment, amount, nonce, status, committed_at, revealed_at
		FROM auction_bids WHERE auction_id = $1
		ORDER BY committed_at ASC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, q, auctionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Bid
	for rows.Next() {
		bid, err := scanBidRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bid)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBid(row *sql.Row) (*Bid, error) {
	bid, err := scanBidRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrBidNotFound
	}
	return bid, err
}

func scanBidRow(row rowScanner) (*Bid, error) {
	bid := &Bid{}
	var amount int64
	var status string
	var revealedAt sql.NullTime
	err := row.Scan(&bid.ID, &bid.AuctionID, &bid.Bidder, &bid.Commitment,
		&amount, &bid.Nonce, &status, &bid.CommittedAt, &revealedAt)
	if err != nil {
		return nil, err
	}
	bid.Amount = uint64(amount)
	bid.Status = BidStatus(status)
	if revealedAt.Valid {
		t := revealedAt.Time.UTC()
		bid.RevealedAt = &t
	}
	return bid, nil
}
