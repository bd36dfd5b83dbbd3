// Package risk implements rule-based risk assessment for outgoing payments.
//
// A candidate transaction is compared with the sender's previous outgoing
// transactions. The amount is classified against thresholds derived from the
// sender's average, then escalated for a new recipient, an unusual location or
// an unfamiliar device. The result is a Verdict carrying a risk tier, the
// ordered risk factors that produced it, a recommended status and a
// recommendation for the reviewer.
//
// Evaluate is pure. Engine wraps it with history loading, audit storage,
// metrics, tracing and realtime notification.
package risk

import (
	"context"
	"errors"
	"time"
)

// Score is the risk tier assigned to a transaction.
type Score string

const (
	ScoreLow    Score = "LOW"
	ScoreMedium Score = "MEDIUM"
	ScoreHigh   Score = "HIGH"
)

// Rank orders tiers so that LOW < MEDIUM < HIGH. Unknown tiers rank 0.
func (s Score) Rank() int {
	switch s {
	case ScoreLow:
		return 1
	case ScoreMedium:
		return 2
	case ScoreHigh:
		return 3
	default:
		return 0
	}
}

// ParseScore accepts a tier name; ok is false for anything else.
func ParseScore(s string) (Score, bool) {
	switch Score(s) {
	case ScoreLow, ScoreMedium, ScoreHigh:
		return Score(s), true
	}
	return "", false
}

// Status is the disposition recommended for a transaction.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusPending   Status = "PENDING"
	StatusFlagged   Status = "FLAGGED"
)

// UnknownDevice is the device label clients send when the device could not be identified.
const UnknownDevice = "Unknown Device"

// Transaction is a payment record as seen by the evaluator. Optional fields are nil when absent.
type Transaction struct {
	ID                string    `json:"id"`
	SenderID          string    `json:"senderId"`
	ReceiverID        *string   `json:"receiverId"`
	SenderAccountID   string    `json:"senderAccountId"`
	ReceiverAccountID *string   `json:"receiverAccountId"`
	Amount            float64   `json:"amount"`
	Description       string    `json:"description"`
	Category          string    `json:"category"`
	Status            Status    `json:"status"`
	RiskScore         Score     `json:"riskScore"`
	CreatedAt         time.Time `json:"createdAt"`
	Location          *string   `json:"location,omitempty"`
	DeviceID          *string   `json:"deviceId,omitempty"`
}

// Verdict is the outcome of evaluating one candidate transaction.
type Verdict struct {
	TransactionID  string   `json:"transactionId"`
	RiskScore      Score    `json:"riskScore"`
	RiskFactors    []string `json:"riskFactors"`
	Status         Status   `json:"status"`
	Recommendation string   `json:"recommendation"`
}

// Blocked reports whether a payment carrying this verdict must not be submitted.
func (v Verdict) Blocked() bool {
	return v.Status == StatusFlagged || v.RiskScore == ScoreHigh
}

// Assessment is the audit record of one evaluation.
type Assessment struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	Amount      float64   `json:"amount"`
	Verdict     Verdict   `json:"verdict"`
	HistorySize int       `json:"historySize"`
	Fallback    bool      `json:"fallback"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

var (
	ErrMissingSender   = errors.New("risk: sender id is required")
	ErrInvalidAmount   = errors.New("risk: amount is not a finite number")
	ErrCorruptHistory  = errors.New("risk: history contains an invalid amount")
	ErrHistoryLoad     = errors.New("risk: failed to load transaction history")
	ErrEvaluationPanic = errors.New("risk: evaluation panicked")
)

// Store persists assessments for the audit trail.
type Store interface {
	Record(ctx context.Context, assessment *Assessment) error
	ListBySender(ctx context.Context, senderID string, limit int) ([]*Assessment, error)
	ListFlagged(ctx context.Context, limit int) ([]*Assessment, error)
}

// HistorySource supplies a sender's stored transactions when the caller sends no history.
type HistorySource interface {
	ListBySender(ctx context.Context, senderID string) ([]Transaction, error)
}

// EventEmitter receives every completed assessment.
type EventEmitter interface {
	EmitAssessment(a *Assessment)
}

// StringPtr returns a pointer to s, for building optional fields.
func StringPtr(s string) *string {
	return &s
}
