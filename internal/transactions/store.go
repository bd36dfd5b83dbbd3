// Package transactions stores payment records and serves them as the default
// history dataset for risk assessment.
package transactions

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/paykrypt/paykrypt/internal/pagination"
	"github.com/paykrypt/paykrypt/internal/risk"
)

var (
	ErrNotFound  = errors.New("transaction not found")
	ErrDuplicate = errors.New("transaction already exists")
	ErrInvalid   = errors.New("invalid transaction")
)

// Store persists transactions. List methods return newest first.
type Store interface {
	Create(ctx context.Context, tx *risk.Transaction) error
	Get(ctx context.Context, id string) (*risk.Transaction, error)
	List(ctx context.Context, limit int, after *pagination.Cursor) ([]risk.Transaction, error)
	ListBySender(ctx context.Context, senderID string) ([]risk.Transaction, error)
	ListByUser(ctx context.Context, userID string) ([]risk.Transaction, error)
	All(ctx context.Context) ([]risk.Transaction, error)
}

// Validate checks the fields every stored transaction must carry.
func Validate(tx *risk.Transaction) error {
	switch {
	case tx.ID == "":
		return errors.Join(ErrInvalid, errors.New("id is required"))
	case tx.SenderID == "":
		return errors.Join(ErrInvalid, errors.New("senderId is required"))
	case math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) || tx.Amount <= 0:
		return errors.Join(ErrInvalid, errors.New("amount must be a positive number"))
	}
	return nil
}

// sortNewestFirst orders by createdAt descending, then id descending.
func sortNewestFirst(txs []risk.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID > txs[j].ID
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

func involves(tx risk.Transaction, userID string) bool {
	return tx.SenderID == userID || (tx.ReceiverID != nil && *tx.ReceiverID == userID)
}
