package risk

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount thresholds relative to the sender's history.
const (
	smallAmountLimit     = 100.0
	lowThresholdFactor   = 1.5
	mediumThresholdRatio = 3.0
	largestMarginFactor  = 1.5
	newRecipientFactor   = 1.2
)

const (
	factorNoHistory         = "No transaction history available"
	factorNewUser           = "New user"
	factorExceedsLargest    = "Exceeds largest previous transaction by significant margin"
	factorNewRecipientLarge = "First transaction with this recipient with above-average amount"
	factorNewRecipient      = "First transaction with this recipient"
	factorUnusualLocation   = "Transaction from unusual location"
	factorUnknownDevice     = "Transaction from unknown device"
	factorNewDevice         = "Transaction from new device"
	factorDeviates          = "Transaction deviates from typical pattern"
	factorNone              = "No risk factors identified"
	factorAssessmentError   = "Error in risk assessment"
	factorCautiousDefault   = "Default to cautious approach"
	recFirstTransaction     = "Review first-time transaction"
	recNormal               = "Transaction appears normal"
	recExceedsPattern       = "Transaction amount significantly exceeds user's typical spending pattern"
	recVerifyDetails        = "Verify transaction details before processing"
	recNewRecipient         = "New recipient with significant amount - verify details"
	recNewRecipientFraud    = "Large transaction with new recipient - potential fraud risk"
	recUnusualLocation      = "Unusual location - verify transaction"
	recAccountCompromise    = "Transaction from unknown device - potential account compromise"
	recMultipleFactors      = "Multiple risk factors detected - review carefully"
	recManualVerification   = "Manual verification recommended due to assessment error"
)

// Evaluate classifies candidate against the sender's prior outgoing transactions
// found in history. It never fails: malformed input yields FallbackVerdict.
func Evaluate(candidate Transaction, history []Transaction) Verdict {
	v, _ := evaluate(candidate, history)
	return v
}

// FallbackVerdict is the cautious verdict returned when a transaction cannot be assessed.
func FallbackVerdict(transactionID string) Verdict {
	return Verdict{
		TransactionID:  transactionID,
		RiskScore:      ScoreMedium,
		RiskFactors:    []string{factorAssessmentError, factorCautiousDefault},
		Status:         StatusPending,
		Recommendation: recManualVerification,
	}
}

// evaluate returns the verdict and, when the fallback was used, the cause.
func evaluate(candidate Transaction, history []Transaction) (v Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = FallbackVerdict(candidate.ID)
			err = fmt.Errorf("%w: %v", ErrEvaluationPanic, r)
		}
	}()

	if candidate.SenderID == "" {
		return FallbackVerdict(candidate.ID), ErrMissingSender
	}
	if !finite(candidate.Amount) {
		return FallbackVerdict(candidate.ID), ErrInvalidAmount
	}

	prior := PriorOutgoing(candidate, history)
	if len(prior) == 0 {
		return Verdict{
			TransactionID:  candidate.ID,
			RiskScore:      ScoreMedium,
			RiskFactors:    []string{factorNoHistory, factorNewUser},
			Status:         StatusPending,
			Recommendation: recFirstTransaction,
		}, nil
	}

	b, err := newBaseline(candidate, prior)
	if err != nil {
		return FallbackVerdict(candidate.ID), err
	}

	a := &assessment{verdict: Verdict{TransactionID: candidate.ID}}
	amount := candidate.Amount

	switch {
	case amount <= smallAmountLimit:
		a.set(ScoreLow, StatusCompleted, "")
	case amount > b.mediumThreshold:
		factor, err := ratioFactor(amount, b.average)
		if err != nil {
			return FallbackVerdict(candidate.ID), err
		}
		a.add(factor)
		a.set(ScoreHigh, StatusFlagged, recExceedsPattern)
		if amount > b.largest*largestMarginFactor {
			a.add(factorExceedsLargest)
		}
	case amount > b.lowThreshold:
		factor, err := ratioFactor(amount, b.average)
		if err != nil {
			return FallbackVerdict(candidate.ID), err
		}
		a.add(factor)
		a.set(ScoreMedium, StatusPending, recVerifyDetails)
	default:
		a.set(ScoreLow, StatusCompleted, "")
	}

	if b.isNewRecipient {
		if amount > b.average*newRecipientFactor {
			a.add(factorNewRecipientLarge)
			if a.is(ScoreLow) && amount > b.average {
				a.set(ScoreMedium, StatusPending, recNewRecipient)
			} else if a.is(ScoreMedium) && amount > b.largest {
				a.set(ScoreHigh, StatusFlagged, recNewRecipientFraud)
			}
		} else {
			a.add(factorNewRecipient)
		}
	}

	if loc := candidate.Location; loc != nil && unseen(b.locations, *loc) {
		a.add(factorUnusualLocation)
		if a.is(ScoreLow) && amount > b.average {
			a.set(ScoreMedium, StatusPending, recUnusualLocation)
		}
	}

	if dev := candidate.DeviceID; dev != nil && unseen(b.devices, *dev) {
		if *dev == UnknownDevice {
			a.add(factorUnknownDevice)
			if !a.is(ScoreHigh) {
				a.set(ScoreHigh, StatusFlagged, recAccountCompromise)
			}
		} else {
			a.add(factorNewDevice)
			if a.is(ScoreMedium) && amount > b.average {
				a.set(ScoreHigh, StatusFlagged, recMultipleFactors)
			}
		}
	}

	if len(a.verdict.RiskFactors) == 0 {
		if a.is(ScoreLow) {
			a.add(factorNone)
		} else {
			a.add(factorDeviates)
		}
	}
	if a.verdict.Recommendation == "" {
		a.verdict.Recommendation = recNormal
	}

	return a.verdict, nil
}

// PriorOutgoing returns the transactions in history sent by the candidate's
// sender, excluding the candidate itself. Order is preserved.
func PriorOutgoing(candidate Transaction, history []Transaction) []Transaction {
	var prior []Transaction
	for _, tx := range history {
		if tx.SenderID == candidate.SenderID && tx.ID != candidate.ID {
			prior = append(prior, tx)
		}
	}
	return prior
}

// baseline summarizes the sender's prior outgoing transactions.
type baseline struct {
	average         float64
	largest         float64
	lowThreshold    float64
	mediumThreshold float64
	isNewRecipient  bool
	locations       map[string]struct{}
	devices         map[string]struct{}
}

func newBaseline(candidate Transaction, prior []Transaction) (*baseline, error) {
	b := &baseline{
		largest:   math.Inf(-1),
		locations: make(map[string]struct{}),
		devices:   make(map[string]struct{}),
	}

	var total float64
	seenRecipient := false
	for _, tx := range prior {
		if !finite(tx.Amount) {
			return nil, ErrCorruptHistory
		}
		total += tx.Amount
		b.largest = math.Max(b.largest, tx.Amount)

		if candidate.ReceiverID != nil && tx.ReceiverID != nil && *tx.ReceiverID == *candidate.ReceiverID {
			seenRecipient = true
		}
		if tx.Location != nil {
			b.locations[*tx.Location] = struct{}{}
		}
		if tx.DeviceID != nil {
			b.devices[*tx.DeviceID] = struct{}{}
		}
	}

	b.average = total / float64(len(prior))
	b.lowThreshold = math.Max(b.average*lowThresholdFactor, smallAmountLimit)
	b.mediumThreshold = b.average * mediumThresholdRatio
	b.isNewRecipient = candidate.ReceiverID != nil && !seenRecipient
	return b, nil
}

// assessment accumulates a verdict. Tiers only move upward.
type assessment struct {
	verdict Verdict
}

func (a *assessment) add(factor string) {
	a.verdict.RiskFactors = append(a.verdict.RiskFactors, factor)
}

func (a *assessment) is(s Score) bool {
	return a.verdict.RiskScore == s
}

func (a *assessment) set(s Score, status Status, recommendation string) {
	if s.Rank() < a.verdict.RiskScore.Rank() {
		return
	}
	a.verdict.RiskScore = s
	a.verdict.Status = status
	if recommendation != "" {
		a.verdict.Recommendation = recommendation
	}
}

// ratioFactor formats the float quotient amount/average to one decimal place.
// The exact binary value is rounded half away from zero, so 2.15 (stored as
// 2.1499...) prints as 2.1 while an exact 1.25 prints as 1.3.
func ratioFactor(amount, average float64) (string, error) {
	if average <= 0 {
		return "", ErrCorruptHistory
	}
	exact := new(big.Rat).SetFloat64(amount / average)
	if exact == nil {
		return "", ErrCorruptHistory
	}
	ratio := decimal.NewFromBigRat(exact, 1)
	return fmt.Sprintf("Amount %sx higher than user average", ratio.StringFixed(1)), nil
}

// unseen reports whether value is missing from a non-empty set.
func unseen(set map[string]struct{}, value string) bool {
	if len(set) == 0 {
		return false
	}
	_, ok := set[value]
	return !ok
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
