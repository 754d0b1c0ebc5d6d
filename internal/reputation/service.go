package reputation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/idgen"
)

var (
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrSelfRating    = errors.New("agents cannot rate themselves")
)

// Payment is a single settled payment attributed to an agent.
type Payment struct {
	ID              string    `json:"id"`
	AgentAddr       string    `json:"agentAddr"`
	Counterparty    string    `json:"counterparty"`
	Amount          uint64    `json:"amount"`
	Success         bool      `json:"success"`
	ResponseSeconds float64   `json:"responseSeconds"` // 0 = not timed
	Reference       string    `json:"reference,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Rating is a 1-5 star rating left by a counterparty.
type Rating struct {
	ID        string    `json:"id"`
	Rater     string    `json:"rater"`
	Ratee     string    `json:"ratee"`
	Rating    int       `json:"rating"`
	Reference string    `json:"reference,omitempty"` // escrow ID
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists payments and ratings and serves the aggregates the
// calculator consumes.
type Store interface {
	AddPayment(ctx context.Context, p *Payment) error
	AddRating(ctx context.Context, r *Rating) error
	GetStats(ctx context.Context, agentAddr string) (*Stats, error)
	VolumeSince(ctx context.Context, agentAddr string, since time.Time) (uint64, error)
	ListAgents(ctx context.Context) ([]string, error)
}

// Service records reputation events and computes scores.
type Service struct {
	store  Store
	calc   *Calculator
	logger *slog.Logger
}

// NewService creates a reputation service with default weights.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, calc: NewCalculator(), logger: logger}
}

// RecordPayment appends a settled payment to the agent's rolling aggregates.
// responseTime is how long the agent took to deliver; zero means untimed.
func (s *Service) RecordPayment(ctx context.Context, agentAddr, counterparty string, amount uint64, success bool, responseTime time.Duration, reference string) error {
	p := &Payment{
		ID:              idgen.WithPrefix("pay_"),
		AgentAddr:       agentAddr,
		Counterparty:    counterparty,
		Amount:          amount,
		Success:         success,
		ResponseSeconds: responseTime.Seconds(),
		Reference:       reference,
		CreatedAt:       time.Now(),
	}
	if err := s.store.AddPayment(ctx, p); err != nil {
		return err
	}
	s.logger.Debug("payment recorded",
		"agent", agentAddr, "amount", amount, "success", success)
	return nil
}

// RecordRating appends a counterparty rating (1-5).
func (s *Service) RecordRating(ctx context.Context, raterAddr, rateeAddr string, rating int, reference string) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	if raterAddr == rateeAddr {
		return ErrSelfRating
	}
	r := &Rating{
		ID:        idgen.WithPrefix("rat_"),
		Rater:     raterAddr,
		Ratee:     rateeAddr,
		Rating:    rating,
		Reference: reference,
		CreatedAt: time.Now(),
	}
	return s.store.AddRating(ctx, r)
}

// GetScore computes the agent's current reputation score.
func (s *Service) GetScore(ctx context.Context, agentAddr string) (*Score, error) {
	stats, err := s.store.GetStats(ctx, agentAddr)
	if err != nil {
		return nil, err
	}
	weekly, err := s.store.VolumeSince(ctx, agentAddr, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	return s.calc.Calculate(agentAddr, *stats, weekly), nil
}
