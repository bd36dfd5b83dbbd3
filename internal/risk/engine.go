package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paykrypt/paykrypt/internal/idgen"
	"github.com/paykrypt/paykrypt/internal/logging"
	"github.com/paykrypt/paykrypt/internal/metrics"
	"github.com/paykrypt/paykrypt/internal/traces"
)

// DefaultHistoryTimeout bounds how long the engine waits for stored history.
const DefaultHistoryTimeout = 2 * time.Second

// AssessRequest is one assessment call. When HistoryProvided is false the
// engine loads the sender's history from its HistorySource instead of using History.
type AssessRequest struct {
	Candidate       Transaction
	History         []Transaction
	HistoryProvided bool
}

// Engine runs Evaluate with history loading, audit recording and notifications.
type Engine struct {
	store          Store
	history        HistorySource
	events         EventEmitter
	historyTimeout time.Duration
	now            func() time.Time
}

// NewEngine creates an engine that records assessments in store. store may be nil.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:          store,
		historyTimeout: DefaultHistoryTimeout,
		now:            time.Now,
	}
}

// WithHistorySource sets the default dataset used when a request carries no history.
func (e *Engine) WithHistorySource(h HistorySource) *Engine {
	e.history = h
	return e
}

// WithEvents sets the emitter notified after each assessment.
func (e *Engine) WithEvents(em EventEmitter) *Engine {
	e.events = em
	return e
}

// WithHistoryTimeout overrides DefaultHistoryTimeout.
func (e *Engine) WithHistoryTimeout(d time.Duration) *Engine {
	e.historyTimeout = d
	return e
}

// Store returns the audit store.
func (e *Engine) Store() Store {
	return e.store
}

// Assess evaluates req.Candidate. It always returns an assessment; failures to
// load history or to evaluate produce the fallback verdict.
func (e *Engine) Assess(ctx context.Context, req AssessRequest) *Assessment {
	start := e.now()
	candidate := req.Candidate
	if candidate.ID == "" {
		candidate.ID = idgen.WithPrefix("tx_")
	}

	ctx, span := traces.StartSpan(ctx, "risk.Assess",
		traces.TransactionID(candidate.ID),
		traces.SenderID(candidate.SenderID),
		traces.Amount(candidate.Amount),
	)
	defer span.End()

	history := req.History
	var verdict Verdict
	var cause error
	if !req.HistoryProvided {
		loaded, err := e.loadHistory(ctx, candidate.SenderID)
		if err != nil {
			verdict, cause = FallbackVerdict(candidate.ID), err
		}
		history = loaded
	}
	if cause == nil {
		verdict, cause = evaluate(candidate, history)
	}

	prior := len(PriorOutgoing(candidate, history))
	recorded := candidate.Amount
	if !finite(recorded) {
		recorded = 0
	}
	a := &Assessment{
		ID:          idgen.WithPrefix("risk_"),
		SenderID:    candidate.SenderID,
		Amount:      recorded,
		Verdict:     verdict,
		HistorySize: prior,
		Fallback:    cause != nil,
		EvaluatedAt: e.now(),
	}

	span.SetAttributes(
		traces.RiskScore(string(verdict.RiskScore)),
		traces.RiskStatus(string(verdict.Status)),
		traces.HistorySize(prior),
		traces.Fallback(a.Fallback),
	)
	traces.RecordError(span, cause)

	metrics.AssessmentsTotal.WithLabelValues(string(verdict.RiskScore), string(verdict.Status)).Inc()
	metrics.AssessmentDuration.Observe(time.Since(start).Seconds())
	metrics.HistorySize.Observe(float64(prior))

	logger := logging.L(ctx)
	if cause != nil {
		metrics.AssessmentFallbacksTotal.WithLabelValues(fallbackCause(cause)).Inc()
		logger.Warn("risk assessment fell back to cautious verdict",
			"transaction_id", candidate.ID,
			"sender_id", candidate.SenderID,
			"error", cause,
		)
	} else {
		logger.Debug("risk assessment completed",
			"transaction_id", candidate.ID,
			"risk", verdict.RiskScore,
			"status", verdict.Status,
			"history_size", prior,
		)
	}

	e.record(logger, a)
	if e.events != nil {
		e.events.EmitAssessment(a)
	}
	return a
}

func (e *Engine) loadHistory(ctx context.Context, senderID string) ([]Transaction, error) {
	if e.history == nil || senderID == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.historyTimeout)
	defer cancel()

	txs, err := e.history.ListBySender(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryLoad, err)
	}
	return txs, nil
}

// record persists the assessment best-effort; the audit trail never blocks a verdict.
func (e *Engine) record(logger *slog.Logger, a *Assessment) {
	if e.store == nil {
		return
	}
	cp := *a
	cp.Verdict.RiskFactors = append([]string(nil), a.Verdict.RiskFactors...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.Record(ctx, &cp); err != nil {
			logger.Error("failed to record risk assessment", "id", cp.ID, "error", err)
		}
	}()
}

func fallbackCause(err error) string {
	switch {
	case errors.Is(err, ErrMissingSender):
		return "missing_sender"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrCorruptHistory):
		return "corrupt_history"
	case errors.Is(err, ErrHistoryLoad):
		return "history_unavailable"
	case errors.Is(err, ErrEvaluationPanic):
		return "panic"
	default:
		return "unknown"
	}
}
