package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drawabledb/drawabledb/pkg/types"
)

func TestBeginTransaction_SecondBeginPanics(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, newFakeSource(), nil)

	tx, err := c.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	require.Panics(t, func() {
		c.BeginTransaction(ctx)
	}, "a second begin must fail fast, not queue behind the first")
}

func TestTransaction_WriteWithoutTransactionPanics(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, newFakeSource(), nil)

	require.Panics(t, func() {
		c.UpsertFile(ctx, testFile(1, 1, "/a", "a.jpg"), false, nil)
	})
}

func TestTransaction_CompletedTransactionPanics(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, newFakeSource(), nil)

	tx, err := c.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(false))

	require.Panics(t, func() {
		c.UpsertFile(ctx, testFile(1, 1, "/a", "a.jpg"), false, tx)
	})
	require.Panics(t, func() { tx.Commit(false) })
}

func TestTransaction_ForeignTransactionPanics(t *testing.T) {
	ctx := context.Background()
	c1, _ := newTestCache(t, newFakeSource(), nil)
	c2, _ := newTestCache(t, newFakeSource(), nil)

	tx, err := c1.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	require.Panics(t, func() {
		c2.UpsertFile(ctx, testFile(1, 1, "/a", "a.jpg"), false, tx)
	})
}

func TestTransaction_RollbackRestoresIndex(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, newFakeSource(), nil)
	upsertOne(t, c, testFile(1, 1, "/a", "a.jpg"), false)

	tx, err := c.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, c.UpsertFile(ctx, testFile(2, 1, "/a", "b.jpg"), false, tx))
	require.NoError(t, c.RemoveFile(ctx, 1, tx))

	// Inside the transaction the index reflects its writes.
	require.True(t, c.IsKnown(2))
	require.False(t, c.IsKnown(1))

	require.NoError(t, tx.Rollback())

	require.False(t, c.IsKnown(2), "added id forgotten on rollback")
	require.True(t, c.IsKnown(1), "dropped id restored on rollback")
	require.Equal(t, int64(1), c.CountAllFiles())

	// The store agrees with the index.
	var n int
	require.NoError(t, c.db.QueryRow("SELECT COUNT(*) FROM drawable_files").Scan(&n))
	require.Equal(t, 1, n)
}

func TestTransaction_CommitWithoutNotifySkipsObserver(t *testing.T) {
	ctx := context.Background()
	obs := &fakeObserver{}
	c, _ := newTestCache(t, newFakeSource(), obs)

	tx, err := c.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, c.UpsertFile(ctx, testFile(1, 1, "/a", "a.jpg"), false, tx))
	require.NoError(t, tx.Commit(false))

	require.Empty(t, obs.updated)
}

func TestTransaction_ObserverSeesInsertionOrderOnce(t *testing.T) {
	ctx := context.Background()
	obs := &fakeObserver{}
	c, _ := newTestCache(t, newFakeSource(), obs)

	tx, err := c.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, c.UpsertFile(ctx, testFile(5, 1, "/a", "a.jpg"), false, tx))
	require.NoError(t, c.UpsertFile(ctx, testFile(3, 1, "/a", "b.jpg"), false, tx))
	require.NoError(t, c.UpsertFile(ctx, testFile(5, 1, "/a", "a.jpg"), false, tx))
	require.NoError(t, c.RemoveFile(ctx, 9, tx))
	require.NoError(t, tx.Commit(true))

	require.Len(t, obs.updated, 1)
	require.Equal(t, []types.FileID{5, 3}, obs.updated[0], "first-touch order, no duplicates")
	require.Equal(t, []types.FileID{9}, obs.removed[0])
}

func TestTransaction_ObserverMayReenterCache(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	c, _ := newTestCache(t, src, nil)

	reentered := false
	c.obs = observerFunc(func(updated, removed []types.FileID) {
		// The notification runs outside the write lock.
		for _, id := range updated {
			if c.IsKnown(id) {
				reentered = true
			}
		}
		c.IDsInGroup(ctx, types.NewGroupKey(types.AttrName, "a.jpg", 0))
	})

	upsertOne(t, c, testFile(1, 1, "/a", "a.jpg"), false)
	require.True(t, reentered)
}

type observerFunc func(updated, removed []types.FileID)

func (f observerFunc) GroupsChanged(updated, removed []types.FileID) { f(updated, removed) }

func TestCache_SequentialTransactionsAfterFinish(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, newFakeSource(), nil)

	tx, err := c.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	// A finished transaction frees the slot for the next one.
	tx, err = c.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(false))
}
