package cache

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/drawabledb/drawabledb/pkg/types"
)

// IDsInGroup returns the ordered file ids in the group. Physical attributes
// resolve against the private store; tags, categories and MIME types are
// delegated to the case source. Storage failures on this interactive path
// are logged and yield an empty group rather than an error, so a review
// screen degrades to blank instead of crashing.
func (c *Cache) IDsInGroup(ctx context.Context, key types.GroupKey) []types.FileID {
	c.stats.RecordGroupQuery(key.Attr.String())

	if !key.Attr.IsGroupable() {
		c.log.Warn("ids-in-group for non-groupable attribute", "attribute", key.Attr.String())
		return nil
	}

	if !key.Attr.IsDBColumn() {
		ids, err := c.delegatedGroup(ctx, key)
		if err != nil {
			c.log.Error("shared-store group lookup failed", "group", key.String(), "error", err)
			return nil
		}
		return ids
	}

	ids, err := c.privateGroup(ctx, key)
	if err != nil {
		c.log.Error("private-store group lookup failed", "group", key.String(), "error", err)
		return nil
	}
	return ids
}

func (c *Cache) delegatedGroup(ctx context.Context, key types.GroupKey) ([]types.FileID, error) {
	switch key.Attr {
	case types.AttrTags:
		return c.source.IDsWithTagValue(ctx, key.Value)
	case types.AttrMimeType:
		return c.source.IDsWithMimeType(ctx, key.Value)
	case types.AttrCategory:
		cat, ok := parseCategory(key.Value)
		if !ok {
			c.log.Warn("unknown category value", "value", key.Value)
			return nil, nil
		}
		return c.source.IDsInCategory(ctx, cat)
	default:
		return nil, nil
	}
}

func (c *Cache) privateGroup(ctx context.Context, key types.GroupKey) ([]types.FileID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stmt, err := c.stmts.lookupStmt(key.Attr)
	if err != nil {
		return nil, err
	}

	var arg any = key.Value
	if key.Attr == types.AttrAnalyzed {
		// The column is an integer; the group value is its textual form.
		n, convErr := strconv.Atoi(key.Value)
		if convErr != nil {
			return nil, nil
		}
		arg = n
	}

	var rows *sql.Rows
	if key.Attr == types.AttrPath && key.DataSourceID != 0 {
		rows, err = c.stmts.pathByDS.QueryContext(ctx, key.Value, int64(key.DataSourceID))
	} else {
		rows, err = stmt.QueryContext(ctx, arg)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.FileID
	for rows.Next() {
		var id types.FileID
		var analyzed int
		if err := rows.Scan(&id, &analyzed); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func parseCategory(v string) (types.Category, bool) {
	for _, cat := range types.AllCategories {
		if cat.String() == v {
			return cat, true
		}
	}
	return 0, false
}

// GroupExists reports whether the shared group row exists. Unlike the other
// group reads this propagates errors: callers use it to decide whether a
// rebuild must re-create groups, and a wrong "false" there is expensive.
func (c *Cache) GroupExists(ctx context.Context, key types.GroupKey) (bool, error) {
	if _, ok := c.groupCache.Get(key.String()); ok {
		groupCacheHits.Inc()
		return true, nil
	}
	groupCacheMisses.Inc()
	exists, err := c.shared.GroupExists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		c.groupCache.Add(key.String(), true)
	}
	return exists, nil
}

func seenKey(key types.GroupKey, examiner int64) string {
	return key.String() + "|" + strconv.FormatInt(examiner, 10)
}

// seenKeyAny caches the any-examiner answer.
func seenKeyAny(key types.GroupKey) string {
	return key.String() + "|any"
}

// IsGroupSeen reports whether any examiner has reviewed the group. A
// positive answer is cached; failures read as unseen.
func (c *Cache) IsGroupSeen(ctx context.Context, key types.GroupKey) bool {
	if seen, ok := c.seenCache.Get(seenKeyAny(key)); ok {
		seenCacheHits.Inc()
		return seen
	}
	seenCacheMisses.Inc()
	seen, err := c.shared.IsGroupSeen(ctx, key)
	if err != nil {
		c.log.Error("seen-state read failed", "group", key.String(), "error", err)
		return false
	}
	if seen {
		c.seenCache.Add(seenKeyAny(key), true)
	}
	return seen
}

// IsGroupSeenByExaminer reports whether the given examiner has reviewed the
// group.
func (c *Cache) IsGroupSeenByExaminer(ctx context.Context, key types.GroupKey, examiner int64) bool {
	if seen, ok := c.seenCache.Get(seenKey(key, examiner)); ok {
		seenCacheHits.Inc()
		return seen
	}
	seenCacheMisses.Inc()
	seen, err := c.shared.IsGroupSeenByExaminer(ctx, key, examiner)
	if err != nil {
		c.log.Error("seen-state read failed", "group", key.String(), "examiner", examiner, "error", err)
		return false
	}
	if seen {
		c.seenCache.Add(seenKey(key, examiner), true)
	}
	return seen
}

// MarkGroupSeen records the examiner's review of the group. Re-marking a
// group this instance already knows is seen skips the shared-store write.
func (c *Cache) MarkGroupSeen(ctx context.Context, key types.GroupKey, examiner int64) error {
	if seen, ok := c.seenCache.Get(seenKey(key, examiner)); ok && seen {
		seenCacheHits.Inc()
		c.stats.RecordSeenSkip()
		return nil
	}
	if err := c.shared.MarkGroupSeen(ctx, key, examiner); err != nil {
		return err
	}
	c.stats.RecordSeenWrite()
	c.seenCache.Add(seenKey(key, examiner), true)
	c.seenCache.Add(seenKeyAny(key), true)
	return nil
}

// MarkGroupUnseen clears the group's seen state for every examiner, then
// drops every cached seen answer for it. Cached entries for other examiners
// of this group cannot be enumerated cheaply, so the whole cache is purged.
func (c *Cache) MarkGroupUnseen(ctx context.Context, key types.GroupKey) error {
	if err := c.shared.MarkGroupUnseen(ctx, key); err != nil {
		return err
	}
	c.stats.RecordSeenWrite()
	c.seenCache.Purge()
	return nil
}

// IsGroupAnalyzed reads the group's analyzed flag straight from the shared
// store. Analyzed state gates whether a group appears in review at all, so
// it is never served from a cache.
func (c *Cache) IsGroupAnalyzed(ctx context.Context, key types.GroupKey) (bool, error) {
	return c.shared.IsGroupAnalyzed(ctx, key)
}

// MarkGroupAnalyzed writes the group's analyzed flag.
func (c *Cache) MarkGroupAnalyzed(ctx context.Context, key types.GroupKey, analyzed bool) error {
	return c.shared.SetGroupAnalyzed(ctx, key, analyzed)
}
