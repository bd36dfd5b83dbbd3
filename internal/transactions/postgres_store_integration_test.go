//go:build integration

package transactions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paykrypt/paykrypt/internal/pagination"
	"github.com/paykrypt/paykrypt/internal/risk"
	"github.com/paykrypt/paykrypt/internal/testutil"
)

func TestPostgresStore_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx), "migrate is idempotent after goose")

	tx := newTx("tx_pg_1", "1", "2", 150, 0)
	require.NoError(t, store.Create(ctx, &tx))
	assert.ErrorIs(t, store.Create(ctx, &tx), ErrDuplicate)

	got, err := store.Get(ctx, "tx_pg_1")
	require.NoError(t, err)
	assert.Equal(t, tx.SenderID, got.SenderID)
	require.NotNil(t, got.ReceiverID)
	assert.Equal(t, "2", *got.ReceiverID)
	assert.Equal(t, 150.0, got.Amount)
	assert.True(t, baseTime.Equal(got.CreatedAt))

	_, err = store.Get(ctx, "tx_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Listing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	for i, tx := range []struct {
		id, sender, receiver string
	}{
		{"tx_a", "1", "2"},
		{"tx_b", "2", "3"},
		{"tx_c", "1", "3"},
		{"tx_d", "3", "1"},
	} {
		rec := newTx(tx.id, tx.sender, tx.receiver, 50, time.Duration(4-i)*time.Hour)
		require.NoError(t, store.Create(ctx, &rec))
	}

	bySender, err := store.ListBySender(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tx_c", "tx_a"}, ids(bySender))

	byUser, err := store.ListByUser(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tx_d", "tx_c", "tx_a"}, ids(byUser))

	page, err := store.List(ctx, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"tx_d", "tx_c"}, ids(page))

	last := page[len(page)-1]
	next, err := store.List(ctx, 2, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"tx_b", "tx_a"}, ids(next))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestPostgresStore_SeedFixtures(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	fixtures, err := SampleFixtures()
	require.NoError(t, err)

	n, err := Seed(ctx, store, fixtures, baseTime)
	require.NoError(t, err)
	assert.Equal(t, len(fixtures), n)

	n, err = Seed(ctx, store, fixtures, baseTime)
	require.NoError(t, err)
	assert.Zero(t, n, "non-empty store is not reseeded")
}

func ids(txs []risk.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}
