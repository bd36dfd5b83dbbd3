// Package reputation grades users from the risk outcomes of their payments.
//
// The grade is derived from every transaction a user sent or received:
// - Share of HIGH risk transactions
// - Share of FLAGGED transactions
// - Presence of MEDIUM risk activity
// - Volume of clean history
//
// Users without transactions are graded "average" until they build history.
package reputation

import (
	"context"
	"time"

	"github.com/paykrypt/paykrypt/internal/risk"
)

// Score represents a user's reputation
type Score struct {
	UserID        string  `json:"userId"`
	Tier          Tier    `json:"tier"`
	FlaggedRatio  float64 `json:"flaggedRatio"`
	HighRiskRatio float64 `json:"highRiskRatio"`

	// Raw metrics
	Metrics Metrics `json:"metrics"`

	CalculatedAt time.Time `json:"calculatedAt"`
}

// Tier represents reputation levels
type Tier string

const (
	TierExcellent Tier = "excellent" // Clean, established history
	TierGood      Tier = "good"      // Clean but short history
	TierAverage   Tier = "average"   // No history, or some medium risk / flagged activity
	TierBad       Tier = "bad"
	TierVeryBad   Tier = "very bad"
)

// Rank orders tiers from very bad (1) to excellent (5).
func (t Tier) Rank() int {
	switch t {
	case TierVeryBad:
		return 1
	case TierBad:
		return 2
	case TierAverage:
		return 3
	case TierGood:
		return 4
	case TierExcellent:
		return 5
	default:
		return 0
	}
}

// Metrics are the raw inputs to the grade
type Metrics struct {
	TotalTransactions    int       `json:"totalTransactions"`
	SentTransactions     int       `json:"sentTransactions"`
	ReceivedTransactions int       `json:"receivedTransactions"`
	FlaggedTxns          int       `json:"flaggedTransactions"`
	HighRiskTxns         int       `json:"highRiskTransactions"`
	MediumRiskTxns       int       `json:"mediumRiskTransactions"`
	TotalVolume          float64   `json:"totalVolume"`
	UniqueCounterparties int       `json:"uniqueCounterparties"`
	LastActive           time.Time `json:"lastActive,omitempty"`
}

// Thresholds are the ratio cut-offs between tiers. A ratio must exceed a
// threshold to trigger it.
type Thresholds struct {
	VeryBadHighRisk float64
	VeryBadFlagged  float64
	BadHighRisk     float64
	BadFlagged      float64

	// ExcellentMinTransactions is the clean history length required for excellent.
	ExcellentMinTransactions int
}

// DefaultThresholds are the production tier cut-offs.
var DefaultThresholds = Thresholds{
	VeryBadHighRisk:          0.2,
	VeryBadFlagged:           0.3,
	BadHighRisk:              0.1,
	BadFlagged:               0.2,
	ExcellentMinTransactions: 5,
}

// Calculator computes reputation scores
type Calculator struct {
	thresholds Thresholds
	now        func() time.Time
}

// NewCalculator creates a calculator with DefaultThresholds
func NewCalculator() *Calculator {
	return &Calculator{thresholds: DefaultThresholds, now: time.Now}
}

// NewCalculatorWithThresholds creates a calculator with custom thresholds
func NewCalculatorWithThresholds(t Thresholds) *Calculator {
	return &Calculator{thresholds: t, now: time.Now}
}

// Calculate grades a user from metrics
func (c *Calculator) Calculate(userID string, m Metrics) *Score {
	s := &Score{
		UserID:       userID,
		Tier:         TierAverage,
		Metrics:      m,
		CalculatedAt: c.now(),
	}
	if m.TotalTransactions == 0 {
		return s
	}

	total := float64(m.TotalTransactions)
	s.FlaggedRatio = float64(m.FlaggedTxns) / total
	s.HighRiskRatio = float64(m.HighRiskTxns) / total
	s.Tier = c.tier(m, s.FlaggedRatio, s.HighRiskRatio)
	return s
}

func (c *Calculator) tier(m Metrics, flaggedRatio, highRiskRatio float64) Tier {
	t := c.thresholds
	switch {
	case highRiskRatio > t.VeryBadHighRisk || flaggedRatio > t.VeryBadFlagged:
		return TierVeryBad
	case highRiskRatio > t.BadHighRisk || flaggedRatio > t.BadFlagged:
		return TierBad
	case m.MediumRiskTxns > 0 || m.FlaggedTxns > 0:
		return TierAverage
	case m.TotalTransactions > t.ExcellentMinTransactions:
		return TierExcellent
	default:
		return TierGood
	}
}

// MetricsFromTransactions aggregates the transactions the user sent or received.
// Transactions not involving the user are ignored.
func MetricsFromTransactions(userID string, txs []risk.Transaction) Metrics {
	var m Metrics
	counterparties := make(map[string]bool)

	for _, tx := range txs {
		sent := tx.SenderID == userID
		received := tx.ReceiverID != nil && *tx.ReceiverID == userID
		if !sent && !received {
			continue
		}

		m.TotalTransactions++
		m.TotalVolume += tx.Amount
		if sent {
			m.SentTransactions++
			if tx.ReceiverID != nil && *tx.ReceiverID != userID {
				counterparties[*tx.ReceiverID] = true
			}
		}
		if received {
			m.ReceivedTransactions++
			if tx.SenderID != userID {
				counterparties[tx.SenderID] = true
			}
		}

		if tx.Status == risk.StatusFlagged {
			m.FlaggedTxns++
		}
		switch tx.RiskScore {
		case risk.ScoreHigh:
			m.HighRiskTxns++
		case risk.ScoreMedium:
			m.MediumRiskTxns++
		}

		if tx.CreatedAt.After(m.LastActive) {
			m.LastActive = tx.CreatedAt
		}
	}

	m.UniqueCounterparties = len(counterparties)
	return m
}

// MetricsProvider fetches metrics for reputation calculation
type MetricsProvider interface {
	GetUserMetrics(ctx context.Context, userID string) (*Metrics, error)
	GetAllUserMetrics(ctx context.Context) (map[string]*Metrics, error)
}
