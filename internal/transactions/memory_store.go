package transactions

import (
	"context"
	"sync"

	"github.com/paykrypt/paykrypt/internal/pagination"
	"github.com/paykrypt/paykrypt/internal/risk"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for demo/test use.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]risk.Transaction
}

// NewMemoryStore creates an empty in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]risk.Transaction)}
}

func (s *MemoryStore) Create(ctx context.Context, tx *risk.Transaction) error {
	if err := Validate(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return ErrDuplicate
	}
	s.txs[tx.ID] = clone(*tx)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*risk.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := clone(tx)
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int, after *pagination.Cursor) ([]risk.Transaction, error) {
	all := s.filter(func(tx risk.Transaction) bool {
		return after.Follows(tx.CreatedAt, tx.ID)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) ListBySender(ctx context.Context, senderID string) ([]risk.Transaction, error) {
	return s.filter(func(tx risk.Transaction) bool { return tx.SenderID == senderID }), nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]risk.Transaction, error) {
	return s.filter(func(tx risk.Transaction) bool { return involves(tx, userID) }), nil
}

func (s *MemoryStore) All(ctx context.Context) ([]risk.Transaction, error) {
	return s.filter(func(risk.Transaction) bool { return true }), nil
}

func (s *MemoryStore) filter(keep func(risk.Transaction) bool) []risk.Transaction {
	s.mu.RLock()
	result := make([]risk.Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		if keep(tx) {
			result = append(result, clone(tx))
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(result)
	return result
}

// clone copies the optional fields so callers cannot alias stored values.
func clone(tx risk.Transaction) risk.Transaction {
	tx.ReceiverID = copyPtr(tx.ReceiverID)
	tx.ReceiverAccountID = copyPtr(tx.ReceiverAccountID)
	tx.Location = copyPtr(tx.Location)
	tx.DeviceID = copyPtr(tx.DeviceID)
	return tx
}

func copyPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
