package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/paykrypt/paykrypt/internal/pagination"
	"github.com/paykrypt/paykrypt/internal/risk"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore persists transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transactions table if it doesn't exist.
// Mirrors migrations/001_transactions.sql for deployments without goose.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id                   VARCHAR(64) PRIMARY KEY,
			sender_id            VARCHAR(64) NOT NULL,
			receiver_id          VARCHAR(64),
			sender_account_id    VARCHAR(64) NOT NULL DEFAULT '',
			receiver_account_id  VARCHAR(64),
			amount               DOUBLE PRECISION NOT NULL CHECK (amount > 0),
			description          TEXT NOT NULL DEFAULT '',
			category             VARCHAR(64) NOT NULL DEFAULT '',
			status               VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			risk_score           VARCHAR(10) NOT NULL DEFAULT 'LOW',
			location             TEXT,
			device_id            TEXT,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_sender
			ON transactions (sender_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_transactions_receiver
			ON transactions (receiver_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_transactions_created
			ON transactions (created_at DESC, id DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate transactions: %w", err)
	}
	return nil
}

const txColumns = `id, sender_id, receiver_id, sender_account_id, receiver_account_id,
	amount, description, category, status, risk_score, location, device_id, created_at`

func (s *PostgresStore) Create(ctx context.Context, tx *risk.Transaction) error {
	if err := Validate(tx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		tx.ID,
		tx.SenderID,
		nullString(tx.ReceiverID),
		tx.SenderAccountID,
		nullString(tx.ReceiverAccountID),
		tx.Amount,
		tx.Description,
		tx.Category,
		string(tx.Status),
		string(tx.RiskScore),
		nullString(tx.Location),
		nullString(tx.DeviceID),
		tx.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*risk.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int, after *pagination.Cursor) ([]risk.Transaction, error) {
	if after == nil {
		return s.query(ctx, `
			SELECT `+txColumns+` FROM transactions
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, limit)
	}
	return s.query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit, after.CreatedAt, after.ID)
}

func (s *PostgresStore) ListBySender(ctx context.Context, senderID string) ([]risk.Transaction, error) {
	return s.query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE sender_id = $1
		ORDER BY created_at DESC, id DESC
	`, senderID)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]risk.Transaction, error) {
	return s.query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
}

func (s *PostgresStore) All(ctx context.Context) ([]risk.Transaction, error) {
	return s.query(ctx, `SELECT `+txColumns+` FROM transactions ORDER BY created_at DESC, id DESC`)
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]risk.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []risk.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, *tx)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*risk.Transaction, error) {
	var tx risk.Transaction
	var receiverID, receiverAccountID, location, deviceID sql.NullString
	err := row.Scan(
		&tx.ID, &tx.SenderID, &receiverID, &tx.SenderAccountID, &receiverAccountID,
		&tx.Amount, &tx.Description, &tx.Category, &tx.Status, &tx.RiskScore,
		&location, &deviceID, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.ReceiverID = stringPtr(receiverID)
	tx.ReceiverAccountID = stringPtr(receiverAccountID)
	tx.Location = stringPtr(location)
	tx.DeviceID = stringPtr(deviceID)
	return &tx, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
