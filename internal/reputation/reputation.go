// Package reputation implements agent reputation scoring for GhostSpeak.
//
// Reputation is calculated from payment history:
// - Success rate (completed vs failed/disputed payments)
// - Average rating from counterparties (1-5 stars)
// - Response time (how fast the agent delivers)
// - Transaction volume
//
// Agents with thin recent volume get their score halved: burst-registering
// sybils cannot farm a high score from a handful of self-dealt payments.
package reputation

import (
	"math"
	"time"

	"github.com/ghostspeak/ghostspeak/internal/token"
)

// Score represents an agent's reputation
type Score struct {
	Address    string     `json:"address"`
	Score      float64    `json:"score"`      // 0-100
	Tier       Tier       `json:"tier"`       // Human-readable tier
	Components Components `json:"components"` // Score breakdown
	Halved     bool       `json:"halved"`     // Anti-sybil volume floor applied

	// Raw aggregates
	Stats Stats `json:"stats"`

	// Metadata
	CalculatedAt time.Time `json:"calculatedAt"`
}

// Tier represents reputation levels
type Tier string

const (
	TierNew         Tier = "new"         // 0-19: Just joined, no history
	TierEmerging    Tier = "emerging"    // 20-39: Some activity
	TierEstablished Tier = "established" // 40-59: Regular participant
	TierTrusted     Tier = "trusted"     // 60-79: Proven track record
	TierElite       Tier = "elite"       // 80-100: Top tier, high volume
)

// Components breaks down the score
type Components struct {
	SuccessScore  float64 `json:"successScore"`  // Based on payment success rate
	RatingScore   float64 `json:"ratingScore"`   // Based on average rating
	ResponseScore float64 `json:"responseScore"` // Based on delivery speed
	VolumeScore   float64 `json:"volumeScore"`   // Based on total volume
}

// Stats are the raw aggregates the score is computed from.
type Stats struct {
	AgentAddr          string    `json:"agentAddr"`
	TotalPayments      int       `json:"totalPayments"`
	SuccessfulPayments int       `json:"successfulPayments"`
	FailedPayments     int       `json:"failedPayments"`
	TotalVolume        uint64    `json:"totalVolume"` // base units
	RatingCount        int       `json:"ratingCount"`
	RatingSum          int       `json:"ratingSum"`
	ResponseCount      int       `json:"responseCount"`
	ResponseSecondsSum float64   `json:"responseSecondsSum"`
	FirstSeen          time.Time `json:"firstSeen"`
	LastActive         time.Time `json:"lastActive"`
}

// Weights for score components (must sum to 1.0)
type Weights struct {
	Success      float64
	Rating       float64
	ResponseTime float64
	Volume       float64
}

// DefaultWeights: success rate dominates, volume matters least.
var DefaultWeights = Weights{
	Success:      0.40,
	Rating:       0.30,
	ResponseTime: 0.20,
	Volume:       0.10,
}

// MinWeeklyVolume is the 7-day volume floor below which scores are halved
// (10 tokens in base units).
const MinWeeklyVolume uint64 = 10 * 1_000_000

// neutralScore is used for components with too little data to judge.
const neutralScore = 50.0

// Calculator computes reputation scores
type Calculator struct {
	weights         Weights
	minWeeklyVolume uint64
}

// NewCalculator creates a reputation calculator with default weights.
func NewCalculator() *Calculator {
	return &Calculator{weights: DefaultWeights, minWeeklyVolume: MinWeeklyVolume}
}

// NewCalculatorWithWeights creates a calculator with custom weights
func NewCalculatorWithWeights(w Weights, minWeeklyVolume uint64) *Calculator {
	return &Calculator{weights: w, minWeeklyVolume: minWeeklyVolume}
}

// Calculate computes reputation from aggregates. weeklyVolume is the agent's
// payment volume over the trailing 7 days, used for the anti-sybil floor.
func (c *Calculator) Calculate(address string, s Stats, weeklyVolume uint64) *Score {
	comp := Components{}

	// Success score: percentage based, with minimum payment threshold.
	// < 5 payments = neutral until enough data.
	if s.TotalPayments < 5 {
		comp.SuccessScore = neutralScore
	} else {
		successRate := float64(s.SuccessfulPayments) / float64(s.TotalPayments)
		comp.SuccessScore = successRate * 100
	}

	// Rating score: 1-5 stars mapped linearly onto 0-100.
	// No ratings yet = neutral.
	if s.RatingCount == 0 {
		comp.RatingScore = neutralScore
	} else {
		avg := float64(s.RatingSum) / float64(s.RatingCount)
		comp.RatingScore = (avg - 1) / 4 * 100
	}

	// Response score: linear decay, full marks for instant delivery,
	// zero at 24 hours. No timed deliveries yet = neutral.
	if s.ResponseCount == 0 {
		comp.ResponseScore = neutralScore
	} else {
		avgSeconds := s.ResponseSecondsSum / float64(s.ResponseCount)
		comp.ResponseScore = math.Max(0, 100*(1-avgSeconds/86400))
	}

	// Volume score: logarithmic scale over whole tokens, caps at 10k.
	// 0 = 0, 10 = 26, 100 = 50, 1k = 75, 10k+ = 100
	tokens := float64(s.TotalVolume) / math.Pow10(token.Decimals)
	if tokens > 0 {
		comp.VolumeScore = math.Min(100, 25*math.Log10(tokens+1))
	}

	// Weighted average
	score := c.weights.Success*comp.SuccessScore +
		c.weights.Rating*comp.RatingScore +
		c.weights.ResponseTime*comp.ResponseScore +
		c.weights.Volume*comp.VolumeScore

	// Anti-sybil floor: thin trailing-week volume halves the score.
	halved := false
	if weeklyVolume < c.minWeeklyVolume {
		score /= 2
		halved = true
	}

	// Clamp to 0-100
	score = math.Max(0, math.Min(100, score))

	return &Score{
		Address:      address,
		Score:        math.Round(score*10) / 10, // 1 decimal place
		Tier:         getTier(score),
		Components:   comp,
		Halved:       halved,
		Stats:        s,
		CalculatedAt: time.Now(),
	}
}

func getTier(score float64) Tier {
	switch {
	case score >= 80:
		return TierElite
	case score >= 60:
		return TierTrusted
	case score >= 40:
		return TierEstablished
	case score >= 20:
		return TierEmerging
	default:
		return TierNew
	}
}
