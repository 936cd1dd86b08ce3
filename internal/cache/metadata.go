package cache

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/drawabledb/drawabledb/internal/errors"
	"github.com/drawabledb/drawabledb/pkg/types"
)

// UpsertFile writes one file record inside the transaction.
//
// With withGroups false this is the ingest fast path: an insert-if-absent of
// the record, nothing else. With withGroups true the record is fully
// replaced, its hash-set hits are resolved from the case database and
// mirrored locally, and the group rows the file exhibits are ensured in the
// shared store.
//
// On error the caller owns rolling back the transaction.
func (c *Cache) UpsertFile(ctx context.Context, f *types.DrawableFile, withGroups bool, t *Transaction) error {
	c.verifyTx(t)
	if f == nil {
		return errors.NewValidationError(errors.CodeInvalidConfig, "cache: nil file record")
	}

	analyzed := 0
	if f.Analyzed {
		analyzed = 1
	}
	args := []any{
		int64(f.ID), int64(f.DataSourceID), f.Path, f.Name,
		f.CreatedTime, f.ModifiedTime, f.Make, f.Model, analyzed,
	}

	if !withGroups {
		if _, err := t.tx.StmtContext(ctx, c.stmts.insertFileIgnore).ExecContext(ctx, args...); err != nil {
			return errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to insert file", err)
		}
		// Bulk pre-population records the id as having no shared facts yet,
		// true or not, so later full upserts skip the per-row joins.
		t.metaForgets = append(t.metaForgets, f.ID)
		t.noteUpserted(f.ID)
		c.stats.RecordUpsert()
		return nil
	}

	if _, err := t.tx.StmtContext(ctx, c.stmts.insertFileReplace).ExecContext(ctx, args...); err != nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to upsert file", err)
	}

	var hashSets []string
	if c.meta.mightHaveHashHits(f.ID) {
		var err error
		hashSets, err = c.source.HashSetsForFile(ctx, f.ID)
		if err != nil {
			if errors.IsCaseClosed(err) {
				c.log.Warn("case database closed during hash-set resolution", "obj_id", int64(f.ID))
				return errors.NewStorageError(errors.CodeCaseClosed, "cache: case closed resolving hash sets", err)
			}
			return errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to resolve hash sets", err)
		}
	}
	for _, name := range hashSets {
		setID, err := c.hashSetID(ctx, t, name)
		if err != nil {
			return err
		}
		if _, err := t.tx.StmtContext(ctx, c.stmts.insertHashHit).ExecContext(ctx, setID, int64(f.ID)); err != nil {
			return errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to record hash hit", err)
		}
		t.metaHashHits = append(t.metaHashHits, f.ID)
	}

	for _, attr := range types.GroupableDBAttributes {
		for _, value := range attr.ExtractValues(f) {
			key := types.NewGroupKey(attr, value, f.DataSourceID)
			// Fresh path groups start unanalyzed; every other kind is born
			// analyzed because its membership is already final.
			if err := c.ensureGroup(ctx, key, attr != types.AttrPath); err != nil {
				return err
			}
		}
	}
	for _, name := range hashSets {
		key := types.NewGroupKey(types.AttrHashSet, name, 0)
		if err := c.ensureGroup(ctx, key, true); err != nil {
			return err
		}
	}

	t.noteUpserted(f.ID)
	c.stats.RecordUpsert()
	return nil
}

// hashSetID resolves (creating if needed) the local id of a named hash set.
func (c *Cache) hashSetID(ctx context.Context, t *Transaction, name string) (int64, error) {
	if _, err := t.tx.StmtContext(ctx, c.stmts.insertHashSet).ExecContext(ctx, name); err != nil {
		return 0, errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to create hash set "+name, err)
	}
	var id int64
	if err := t.tx.StmtContext(ctx, c.stmts.selectHashSetID).QueryRowContext(ctx, name).Scan(&id); err != nil {
		return 0, errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to resolve hash set "+name, err)
	}
	c.invalidateHashSetNames()
	return id, nil
}

// ensureGroup makes sure the shared group row exists, short-circuiting
// through the existence cache. The cache entry expires, so a row deleted by
// a cascading data-source removal on another node is re-created at most one
// TTL late.
func (c *Cache) ensureGroup(ctx context.Context, key types.GroupKey, analyzed bool) error {
	k := key.String()
	if _, ok := c.groupCache.Get(k); ok {
		groupCacheHits.Inc()
		c.stats.RecordGroupWriteSkip()
		return nil
	}
	groupCacheMisses.Inc()
	if err := c.shared.UpsertGroup(ctx, key, analyzed); err != nil {
		return err
	}
	c.stats.RecordGroupWrite()
	c.groupCache.Add(k, true)
	return nil
}

// RemoveFile deletes the file row inside the transaction. Hash hits go with
// it via the cascade. Group rows in the shared store stay until their data
// source is removed.
func (c *Cache) RemoveFile(ctx context.Context, id types.FileID, t *Transaction) error {
	c.verifyTx(t)
	if _, err := t.tx.StmtContext(ctx, c.stmts.deleteFile).ExecContext(ctx, int64(id)); err != nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to remove file", err)
	}
	t.noteRemoved(id)
	c.stats.RecordRemove()
	return nil
}

// RegisterDataSource records the build status of a data source's cache
// contents. It runs outside any transaction and must not be called while
// one is open on this instance.
func (c *Cache) RegisterDataSource(ctx context.Context, ds types.DataSourceID, status types.BuildStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.stmts.upsertDataSource.ExecContext(ctx, int64(ds), int(status)); err != nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to register data source", err)
	}
	return nil
}

// DataSourceStatus returns the recorded build status, BuildStatusUnknown
// when the data source was never registered.
func (c *Cache) DataSourceStatus(ctx context.Context, ds types.DataSourceID) (types.BuildStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var status int
	err := c.stmts.selectDataSource.QueryRowContext(ctx, int64(ds)).Scan(&status)
	if err == sql.ErrNoRows {
		return types.BuildStatusUnknown, nil
	}
	if err != nil {
		return types.BuildStatusUnknown, errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to read data source status", err)
	}
	return types.BuildStatus(status), nil
}

// RemoveDataSource deletes everything the cache holds for the data source:
// its file rows and hash hits in the private store, its registration row,
// and its path groups in the shared store. Runs outside any transaction.
func (c *Cache) RemoveDataSource(ctx context.Context, ds types.DataSourceID) error {
	c.mu.Lock()

	ids, err := c.collectIDsForDS(ctx, ds)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.mu.Unlock()
		return errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to begin data-source removal", err)
	}
	_, err = tx.StmtContext(ctx, c.stmts.deleteFilesForDS).ExecContext(ctx, int64(ds))
	if err == nil {
		_, err = tx.StmtContext(ctx, c.stmts.deleteDataSource).ExecContext(ctx, int64(ds))
	}
	if err != nil {
		tx.Rollback()
		c.mu.Unlock()
		return errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to remove data source rows", err)
	}
	if err := tx.Commit(); err != nil {
		c.mu.Unlock()
		return errors.NewStorageError(errors.CodeWriteFailed, "cache: failed to commit data-source removal", err)
	}

	for _, id := range ids {
		c.idx.drop(id)
		c.meta.forget(id)
		c.stats.RecordRemove()
	}
	c.mu.Unlock()

	if err := c.shared.DeleteGroupsForDataSource(ctx, ds); err != nil {
		return err
	}
	c.forgetGroupsForDS(ds)
	if c.obs != nil && len(ids) > 0 {
		c.obs.GroupsChanged(nil, ids)
	}
	c.log.Info("data source removed from drawable cache", "ds_obj_id", int64(ds), "files", len(ids))
	return nil
}

// forgetGroupsForDS evicts existence-cache entries for groups this node just
// deleted. Other nodes converge within the cache TTL; our own deletes must
// not be re-served from cache at all.
func (c *Cache) forgetGroupsForDS(ds types.DataSourceID) {
	suffix := "/" + strconv.FormatInt(int64(ds), 10)
	for _, k := range c.groupCache.Keys() {
		if strings.HasSuffix(k, suffix) {
			c.groupCache.Remove(k)
		}
	}
}

func (c *Cache) collectIDsForDS(ctx context.Context, ds types.DataSourceID) ([]types.FileID, error) {
	rows, err := c.stmts.idsForDS.QueryContext(ctx, int64(ds))
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to list data source files", err)
	}
	defer rows.Close()
	var ids []types.FileID
	for rows.Next() {
		var id types.FileID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to scan data source file id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError(errors.CodeQueryFailed, "cache: data source id scan aborted", err)
	}
	return ids, nil
}
