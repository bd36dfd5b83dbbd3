package reputation

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
)

var _ SnapshotStore = (*PostgresSnapshotStore)(nil)

// PostgresSnapshotStore implements SnapshotStore backed by PostgreSQL.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore creates a PostgreSQL-backed snapshot store.
func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

// Migrate creates the reputation_snapshots table if it doesn't exist.
// Mirrors migrations/003_reputation_snapshots.sql.
func (p *PostgresSnapshotStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reputation_snapshots (
			id              SERIAL PRIMARY KEY,
			user_id         VARCHAR(64) NOT NULL,
			tier            VARCHAR(16) NOT NULL,
			total_txns      INTEGER NOT NULL DEFAULT 0,
			flagged_txns    INTEGER NOT NULL DEFAULT 0,
			high_risk_txns  INTEGER NOT NULL DEFAULT 0,
			flagged_ratio   DOUBLE PRECISION NOT NULL DEFAULT 0,
			high_risk_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_volume    DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_reputation_snapshots_user_time
			ON reputation_snapshots (user_id, created_at DESC);
	`)
	return err
}

const snapshotColumns = `id, user_id, tier, total_txns, flagged_txns, high_risk_txns,
	flagged_ratio, high_risk_ratio, total_volume, created_at`

func (p *PostgresSnapshotStore) SaveBatch(ctx context.Context, snaps []*Snapshot) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reputation_snapshots
			(user_id, tier, total_txns, flagged_txns, high_risk_txns,
			 flagged_ratio, high_risk_ratio, total_volume, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, s := range snaps {
		err := stmt.QueryRowContext(ctx, s.UserID, string(s.Tier),
			s.TotalTxns, s.FlaggedTxns, s.HighRiskTxns,
			s.FlaggedRatio, s.HighRiskRatio, s.TotalVolume, s.CreatedAt,
		).Scan(&s.ID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresSnapshotStore) Query(ctx context.Context, q HistoryQuery) ([]*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM reputation_snapshots WHERE user_id = $1`
	args := []any{q.UserID}
	argIdx := 2

	if !q.From.IsZero() {
		query += " AND created_at >= $" + strconv.Itoa(argIdx)
		args = append(args, q.From)
		argIdx++
	}
	if !q.To.IsZero() {
		query += " AND created_at <= $" + strconv.Itoa(argIdx)
		args = append(args, q.To)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT $" + strconv.Itoa(argIdx)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresSnapshotStore) Latest(ctx context.Context, userID string) (*Snapshot, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM reputation_snapshots
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, userID)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	s := &Snapshot{}
	var tier string
	err := row.Scan(&s.ID, &s.UserID, &tier, &s.TotalTxns, &s.FlaggedTxns, &s.HighRiskTxns,
		&s.FlaggedRatio, &s.HighRiskRatio, &s.TotalVolume, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Tier = Tier(tier)
	return s, nil
}
