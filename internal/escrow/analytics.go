package escrow

import (
	"context"

	"github.com/ghostspeak/ghostspeak/internal/token"
)

// Summary provides aggregate metrics across all escrows.
type Summary struct {
	TotalCount     int            `json:"totalCount"`
	ByStatus       map[string]int `json:"byStatus"`
	TotalVolume    uint64         `json:"totalVolume"`    // base units across all escrows
	ReleasedVolume uint64         `json:"releasedVolume"` // base units released to recipients
	TotalVolumeFmt string         `json:"totalVolumeFormatted"`
	DisputeRate    float64        `json:"disputeRate"` // 0-100
	ExpiryRate     float64        `json:"expiryRate"`  // 0-100
}

// GetSummary computes aggregate escrow analytics.
func (s *Service) GetSummary(ctx context.Context) (*Summary, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	total, released, err := s.store.SumVolume(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		ByStatus:       make(map[string]int, len(counts)),
		TotalVolume:    total,
		ReleasedVolume: released,
		TotalVolumeFmt: token.Format(total),
	}
	for status, n := range counts {
		summary.ByStatus[string(status)] = n
		summary.TotalCount += n
	}

	if summary.TotalCount > 0 {
		disputed := counts[StatusDisputed] + counts[StatusPartiallyRefunded]
		summary.DisputeRate = float64(disputed) / float64(summary.TotalCount) * 100
		summary.ExpiryRate = float64(counts[StatusExpired]) / float64(summary.TotalCount) * 100
	}

	return summary, nil
}
