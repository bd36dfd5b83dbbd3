package reputation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider implements MetricsProvider for testing.
type mockProvider struct {
	users map[string]*Metrics
	err   error
}

func (m *mockProvider) GetUserMetrics(_ context.Context, userID string) (*Metrics, error) {
	if m.err != nil {
		return nil, m.err
	}
	if metrics, ok := m.users[userID]; ok {
		return metrics, nil
	}
	return &Metrics{}, nil
}

func (m *mockProvider) GetAllUserMetrics(_ context.Context) (map[string]*Metrics, error) {
	return m.users, m.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerSnapshot(t *testing.T) {
	provider := &mockProvider{
		users: map[string]*Metrics{
			"1": {TotalTransactions: 8},
			"2": {TotalTransactions: 4, FlaggedTxns: 2, HighRiskTxns: 2},
		},
	}

	store := NewMemorySnapshotStore()
	worker := NewWorker(provider, store, 50*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)

	require.Eventually(t, func() bool {
		snaps, _ := store.Query(context.Background(), HistoryQuery{UserID: "2", Limit: 10})
		return len(snaps) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	latest, err := store.Latest(context.Background(), "1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, TierExcellent, latest.Tier)
	assert.Equal(t, 8, latest.TotalTxns)

	latest, err = store.Latest(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, TierVeryBad, latest.Tier)
	assert.InDelta(t, 0.5, latest.FlaggedRatio, 1e-9)

	worker.Stop()
	worker.Stop()
}

func TestWorkerRunOnce_ReportsDowngrades(t *testing.T) {
	ctx := context.Background()
	provider := &mockProvider{users: map[string]*Metrics{
		"1": {TotalTransactions: 8},
		"2": {TotalTransactions: 2},
	}}
	store := NewMemorySnapshotStore()
	worker := NewWorker(provider, store, time.Hour, quietLogger())

	saved, downgraded, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)
	assert.Empty(t, downgraded, "first snapshot has nothing to compare with")

	provider.users["1"] = &Metrics{TotalTransactions: 9, FlaggedTxns: 3, HighRiskTxns: 3}
	saved, downgraded, err = worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)
	assert.Equal(t, []string{"1"}, downgraded)

	history, err := store.Query(ctx, HistoryQuery{UserID: "1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, TierVeryBad, history[0].Tier)
}

func TestWorkerRunOnce_NoUsers(t *testing.T) {
	worker := NewWorker(&mockProvider{}, NewMemorySnapshotStore(), time.Hour, quietLogger())

	saved, downgraded, err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.Nil(t, downgraded)
}

func TestWorkerSnapshot_ProviderError(t *testing.T) {
	provider := &mockProvider{err: errors.New("db down")}
	store := NewMemorySnapshotStore()
	worker := NewWorker(provider, store, time.Hour, quietLogger())

	worker.snapshot(context.Background())

	latest, err := store.Latest(context.Background(), "1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestMemorySnapshotStore_QueryWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var snaps []*Snapshot
	for i := 0; i < 5; i++ {
		snaps = append(snaps, &Snapshot{UserID: "u", Tier: TierGood, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	snaps = append(snaps, &Snapshot{UserID: "other", Tier: TierBad, CreatedAt: base})
	require.NoError(t, store.SaveBatch(ctx, snaps))

	got, err := store.Query(ctx, HistoryQuery{UserID: "u", From: base.Add(time.Hour), To: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(3*time.Hour), got[0].CreatedAt, "newest first")

	got, err = store.Query(ctx, HistoryQuery{UserID: "u", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	assert.NotZero(t, snaps[0].ID)
}
