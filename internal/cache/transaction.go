package cache

import (
	"context"
	"database/sql"

	"github.com/drawabledb/drawabledb/internal/errors"
	"github.com/drawabledb/drawabledb/pkg/types"
)

// Transaction is the single write transaction a cache instance may have open
// at a time. It buffers the ids touched so observers are told exactly what
// changed, in first-touch order, after commit. Methods are not safe for
// concurrent use; the owning goroutine drives the whole transaction.
type Transaction struct {
	c        *Cache
	tx       *sql.Tx
	complete bool

	updated    []types.FileID
	updatedSet map[types.FileID]struct{}
	removed    []types.FileID
	removedSet map[types.FileID]struct{}

	// Index deltas applied eagerly so reads inside the transaction see its
	// writes. Rollback un-applies them.
	indexAdded   []types.FileID
	indexDropped []types.FileID

	// Presence-cache deltas are deferred to commit: the shared-store facts
	// they mirror only become real alongside the private rows.
	metaHashHits []types.FileID
	metaForgets  []types.FileID
}

// BeginTransaction opens the write transaction and takes the cache write
// lock. Only one may be open per instance; a second concurrent begin is a
// programming error and panics rather than deadlocking the ingest pipeline.
// The caller must finish with Commit or Rollback.
func (c *Cache) BeginTransaction(ctx context.Context) (*Transaction, error) {
	if !c.txOpen.CompareAndSwap(false, true) {
		panic("drawabledb: transaction already open on this cache instance")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.txOpen.Store(false)
		return nil, errors.NewStorageError(errors.CodeOpenFailed, "cache: cache is closed", nil)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.mu.Unlock()
		c.txOpen.Store(false)
		return nil, errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to begin transaction", err)
	}
	return &Transaction{
		c:          c,
		tx:         tx,
		updatedSet: make(map[types.FileID]struct{}),
		removedSet: make(map[types.FileID]struct{}),
	}, nil
}

// verifyTx asserts the transaction belongs to this cache and is still open.
// Using a foreign or finished transaction is a programming error.
func (c *Cache) verifyTx(t *Transaction) {
	switch {
	case t == nil:
		panic("drawabledb: write requires an open transaction")
	case t.c != c:
		panic("drawabledb: transaction belongs to a different cache instance")
	case t.complete:
		panic("drawabledb: transaction already committed or rolled back")
	}
}

func (t *Transaction) noteUpserted(id types.FileID) {
	if _, ok := t.updatedSet[id]; !ok {
		t.updatedSet[id] = struct{}{}
		t.updated = append(t.updated, id)
	}
	if t.c.idx.add(id) {
		t.indexAdded = append(t.indexAdded, id)
	}
}

func (t *Transaction) noteRemoved(id types.FileID) {
	if _, ok := t.removedSet[id]; !ok {
		t.removedSet[id] = struct{}{}
		t.removed = append(t.removed, id)
	}
	if t.c.idx.drop(id) {
		t.indexDropped = append(t.indexDropped, id)
	}
	t.metaForgets = append(t.metaForgets, id)
}

// Commit commits the private-store transaction and releases the write lock.
// When notify is true the observer is called with the touched ids after the
// lock is released, so it may re-enter the cache.
func (t *Transaction) Commit(notify bool) error {
	c := t.c
	c.verifyTx(t)
	t.complete = true

	if err := t.tx.Commit(); err != nil {
		t.tx.Rollback()
		t.restoreIndex()
		c.release()
		return errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to commit transaction", err)
	}

	for _, id := range t.metaHashHits {
		c.meta.noteHashHit(id)
	}
	for _, id := range t.metaForgets {
		c.meta.forget(id)
	}
	c.release()

	if notify && c.obs != nil && (len(t.updated) > 0 || len(t.removed) > 0) {
		c.obs.GroupsChanged(t.updated, t.removed)
	}
	return nil
}

// Rollback aborts the transaction, restores the known-id index to its
// pre-transaction state and releases the write lock.
func (t *Transaction) Rollback() error {
	c := t.c
	c.verifyTx(t)
	t.complete = true

	err := t.tx.Rollback()
	t.restoreIndex()
	c.release()
	if err != nil && err != sql.ErrTxDone {
		return errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to roll back transaction", err)
	}
	return nil
}

func (t *Transaction) restoreIndex() {
	for _, id := range t.indexAdded {
		t.c.idx.drop(id)
	}
	for _, id := range t.indexDropped {
		t.c.idx.add(id)
	}
}

func (c *Cache) release() {
	c.txOpen.Store(false)
	c.mu.Unlock()
}
