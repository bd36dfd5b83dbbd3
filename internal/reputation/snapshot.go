package reputation

import "time"

// Snapshot is a point-in-time reputation grade stored for history.
type Snapshot struct {
	ID            int       `json:"id"`
	UserID        string    `json:"userId"`
	Tier          Tier      `json:"tier"`
	TotalTxns     int       `json:"totalTransactions"`
	FlaggedTxns   int       `json:"flaggedTransactions"`
	HighRiskTxns  int       `json:"highRiskTransactions"`
	FlaggedRatio  float64   `json:"flaggedRatio"`
	HighRiskRatio float64   `json:"highRiskRatio"`
	TotalVolume   float64   `json:"totalVolume"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SnapshotFromScore creates a Snapshot from a calculated Score.
func SnapshotFromScore(s *Score) *Snapshot {
	return &Snapshot{
		UserID:        s.UserID,
		Tier:          s.Tier,
		TotalTxns:     s.Metrics.TotalTransactions,
		FlaggedTxns:   s.Metrics.FlaggedTxns,
		HighRiskTxns:  s.Metrics.HighRiskTxns,
		FlaggedRatio:  s.FlaggedRatio,
		HighRiskRatio: s.HighRiskRatio,
		TotalVolume:   s.Metrics.TotalVolume,
		CreatedAt:     s.CalculatedAt,
	}
}

// BatchRequest is a request for batch reputation lookups.
type BatchRequest struct {
	UserIDs []string `json:"userIds" binding:"required"`
}

// BatchResponse returns multiple reputation scores.
type BatchResponse struct {
	Scores []*Score `json:"scores"`
}

// HistoryQuery holds query parameters for historical grades.
type HistoryQuery struct {
	UserID string
	From   time.Time
	To     time.Time
	Limit  int
}
