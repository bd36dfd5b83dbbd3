package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore persists assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_assessments table if it doesn't exist.
// Mirrors migrations/002_risk_assessments.sql for deployments without goose.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			id              VARCHAR(40) PRIMARY KEY,
			transaction_id  VARCHAR(64) NOT NULL,
			sender_id       VARCHAR(64) NOT NULL,
			amount          DOUBLE PRECISION NOT NULL DEFAULT 0,
			risk_score      VARCHAR(10) NOT NULL CHECK (risk_score IN ('LOW', 'MEDIUM', 'HIGH')),
			status          VARCHAR(10) NOT NULL CHECK (status IN ('COMPLETED', 'PENDING', 'FLAGGED')),
			risk_factors    JSONB NOT NULL DEFAULT '[]',
			recommendation  TEXT NOT NULL DEFAULT '',
			history_size    INTEGER NOT NULL DEFAULT 0,
			fallback        BOOLEAN NOT NULL DEFAULT FALSE,
			evaluated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_sender
			ON risk_assessments (sender_id, evaluated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_flagged
			ON risk_assessments (evaluated_at DESC) WHERE status = 'FLAGGED';
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	factorsJSON, err := json.Marshal(a.Verdict.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to marshal risk factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (
			id, transaction_id, sender_id, amount, risk_score, status,
			risk_factors, recommendation, history_size, fallback, evaluated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		a.ID,
		a.Verdict.TransactionID,
		a.SenderID,
		a.Amount,
		string(a.Verdict.RiskScore),
		string(a.Verdict.Status),
		factorsJSON,
		a.Verdict.Recommendation,
		a.HistorySize,
		a.Fallback,
		a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

const assessmentColumns = `id, transaction_id, sender_id, amount, risk_score, status,
	risk_factors, recommendation, history_size, fallback, evaluated_at`

func (s *PostgresStore) ListBySender(ctx context.Context, senderID string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		WHERE sender_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	return scanAssessments(rows)
}

func (s *PostgresStore) ListFlagged(ctx context.Context, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		WHERE status = 'FLAGGED'
		ORDER BY evaluated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged assessments: %w", err)
	}
	return scanAssessments(rows)
}

func scanAssessments(rows *sql.Rows) ([]*Assessment, error) {
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var factorsJSON []byte
		if err := rows.Scan(
			&a.ID, &a.Verdict.TransactionID, &a.SenderID, &a.Amount,
			&a.Verdict.RiskScore, &a.Verdict.Status, &factorsJSON,
			&a.Verdict.Recommendation, &a.HistorySize, &a.Fallback, &a.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan risk assessment: %w", err)
		}
		if err := json.Unmarshal(factorsJSON, &a.Verdict.RiskFactors); err != nil {
			return nil, fmt.Errorf("failed to decode risk factors: %w", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}
