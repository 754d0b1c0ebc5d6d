package reputation

import "time"

// Snapshot is a point-in-time reputation score stored for history.
type Snapshot struct {
	ID            int       `json:"id"`
	Address       string    `json:"address"`
	Score         float64   `json:"score"`
	Tier          Tier      `json:"tier"`
	SuccessScore  float64   `json:"successScore"`
	RatingScore   float64   `json:"ratingScore"`
	ResponseScore float64   `json:"responseScore"`
	VolumeScore   float64   `json:"volumeScore"`
	Halved        bool      `json:"halved"`
	TotalPayments int       `json:"totalPayments"`
	TotalVolume   uint64    `json:"totalVolume"`
	SuccessRate   float64   `json:"successRate"`
	RatingCount   int       `json:"ratingCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SnapshotFromScore creates a Snapshot from a calculated Score.
func SnapshotFromScore(s *Score) *Snapshot {
	var successRate float64
	if s.Stats.TotalPayments > 0 {
		successRate = float64(s.Stats.SuccessfulPayments) / float64(s.Stats.TotalPayments)
	}
	return &Snapshot{
		Address:       s.Address,
		Score:         s.Score,
		Tier:          s.Tier,
		SuccessScore:  s.Components.SuccessScore,
		RatingScore:   s.Components.RatingScore,
		ResponseScore: s.Components.ResponseScore,
		VolumeScore:   s.Components.VolumeScore,
		Halved:        s.Halved,
		TotalPayments: s.Stats.TotalPayments,
		TotalVolume:   s.Stats.TotalVolume,
		SuccessRate:   successRate,
		RatingCount:   s.Stats.RatingCount,
		CreatedAt:     time.Now(),
	}
}

// HistoryQuery holds query parameters for historical scores.
type HistoryQuery struct {
	Address string
	From    time.Time
	To      time.Time
	Limit   int
}
