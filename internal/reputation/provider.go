package reputation

import (
	"context"
	"fmt"

	"github.com/paykrypt/paykrypt/internal/risk"
	"github.com/paykrypt/paykrypt/internal/transactions"
)

// TransactionProvider implements MetricsProvider over the transaction store
type TransactionProvider struct {
	store transactions.Store
}

// NewTransactionProvider creates a provider backed by stored transactions
func NewTransactionProvider(store transactions.Store) *TransactionProvider {
	return &TransactionProvider{store: store}
}

// GetUserMetrics fetches metrics for a single user
func (p *TransactionProvider) GetUserMetrics(ctx context.Context, userID string) (*Metrics, error) {
	txs, err := p.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for %s: %w", userID, err)
	}
	m := MetricsFromTransactions(userID, txs)
	return &m, nil
}

// GetAllUserMetrics fetches metrics for every user that appears in a transaction
func (p *TransactionProvider) GetAllUserMetrics(ctx context.Context) (map[string]*Metrics, error) {
	all, err := p.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	byUser := make(map[string][]risk.Transaction)
	for _, tx := range all {
		byUser[tx.SenderID] = append(byUser[tx.SenderID], tx)
		if tx.ReceiverID != nil && *tx.ReceiverID != tx.SenderID {
			byUser[*tx.ReceiverID] = append(byUser[*tx.ReceiverID], tx)
		}
	}

	result := make(map[string]*Metrics, len(byUser))
	for userID, txs := range byUser {
		m := MetricsFromTransactions(userID, txs)
		result[userID] = &m
	}
	return result, nil
}
