package reputation

import (
	"context"
	"sync"
	"time"
)

const defaultHistoryLimit = 100

var _ SnapshotStore = (*MemorySnapshotStore)(nil)

// MemorySnapshotStore keeps snapshots per user in insertion order.
type MemorySnapshotStore struct {
	mu     sync.RWMutex
	byUser map[string][]Snapshot
	nextID int
	now    func() time.Time
}

// NewMemorySnapshotStore creates an in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{byUser: make(map[string][]Snapshot), nextID: 1, now: time.Now}
}

// SaveBatch assigns ids and, when missing, creation times to snaps.
func (m *MemorySnapshotStore) SaveBatch(_ context.Context, snaps []*Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range snaps {
		snap.ID = m.nextID
		m.nextID++
		if snap.CreatedAt.IsZero() {
			snap.CreatedAt = m.now()
		}
		m.byUser[snap.UserID] = append(m.byUser[snap.UserID], *snap)
	}
	return nil
}

// Query walks the user's snapshots backwards. Insertion order breaks ties
// between equal timestamps.
func (m *MemorySnapshotStore) Query(_ context.Context, q HistoryQuery) ([]*Snapshot, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	history := newestFirst(m.byUser[q.UserID])
	results := make([]*Snapshot, 0, min(limit, len(history)))
	for _, s := range history {
		if !q.From.IsZero() && s.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && s.CreatedAt.After(q.To) {
			continue
		}
		cp := s
		results = append(results, &cp)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (m *MemorySnapshotStore) Latest(_ context.Context, userID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := newestFirst(m.byUser[userID])
	if len(history) == 0 {
		return nil, nil
	}
	latest := history[0]
	return &latest, nil
}

// newestFirst orders by CreatedAt descending, later insertions first on ties.
func newestFirst(snaps []Snapshot) []Snapshot {
	out := make([]Snapshot, len(snaps))
	for i, s := range snaps {
		out[len(snaps)-1-i] = s
	}
	// Insertion sort: batches are appended in time order, so this is near linear.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.After(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
