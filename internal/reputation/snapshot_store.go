package reputation

import "context"

// SnapshotStore keeps the reputation grades written by the Worker.
type SnapshotStore interface {
	SaveBatch(ctx context.Context, snaps []*Snapshot) error
	// Query returns snapshots for q.UserID inside [From, To], newest first.
	Query(ctx context.Context, q HistoryQuery) ([]*Snapshot, error)
	// Latest returns nil without error when the user has no snapshot.
	Latest(ctx context.Context, userID string) (*Snapshot, error)
}
