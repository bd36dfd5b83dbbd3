package risk

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments []*Assessment            // insertion order
	bySender    map[string][]*Assessment // senderID → assessments
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bySender: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, assessment *Assessment) error {
	a := copyAssessment(assessment)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments = append(s.assessments, a)
	s.bySender[a.SenderID] = append(s.bySender[a.SenderID], a)
	return nil
}

func (s *MemoryStore) ListBySender(ctx context.Context, senderID string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.bySender[senderID], limit, nil), nil
}

func (s *MemoryStore) ListFlagged(ctx context.Context, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.assessments, limit, func(a *Assessment) bool {
		return a.Verdict.Status == StatusFlagged
	}), nil
}

// newestFirst copies up to limit entries of all matching keep, most recent first.
func newestFirst(all []*Assessment, limit int, keep func(*Assessment) bool) []*Assessment {
	var result []*Assessment
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		if keep != nil && !keep(all[i]) {
			continue
		}
		result = append(result, copyAssessment(all[i]))
	}
	return result
}

func copyAssessment(a *Assessment) *Assessment {
	cp := *a
	cp.Verdict.RiskFactors = append([]string(nil), a.Verdict.RiskFactors...)
	return &cp
}
