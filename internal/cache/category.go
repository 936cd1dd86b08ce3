package cache

import (
	"context"

	"github.com/drawabledb/drawabledb/internal/errors"
	"github.com/drawabledb/drawabledb/pkg/types"
)

// CountFilesWithCategory returns how many cached files carry the category.
// The uncategorized count is derived by subtraction: total cached files
// minus every explicit category. Counting tag rows for "no tag" directly
// would need a scan of every file, and the subtraction stays consistent
// because both operands come from the same instant under catMu.
func (c *Cache) CountFilesWithCategory(ctx context.Context, cat types.Category) (int64, error) {
	c.catMu.Lock()
	defer c.catMu.Unlock()

	if cat != types.CategoryZero {
		return c.countCategoryLocked(ctx, cat)
	}

	total := c.idx.count()
	var categorized int64
	for _, other := range types.AllCategories {
		if other == types.CategoryZero {
			continue
		}
		n, err := c.countCategoryLocked(ctx, other)
		if err != nil {
			return 0, err
		}
		categorized += n
	}
	if categorized > total {
		// Categorized non-drawable files can push the sum past the cached
		// total; clamp rather than report a negative count.
		return 0, nil
	}
	return total - categorized, nil
}

func (c *Cache) countCategoryLocked(ctx context.Context, cat types.Category) (int64, error) {
	if n, ok := c.catCounts[cat]; ok {
		return n, nil
	}
	ids, err := c.source.IDsInCategory(ctx, cat)
	if err != nil {
		return 0, errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to count category "+cat.String(), err)
	}
	n := int64(len(ids))
	c.catCounts[cat] = n
	return n, nil
}

// InvalidateCategoryCount drops the cached count for one category. The host
// calls this from its category-tag event listener.
func (c *Cache) InvalidateCategoryCount(cat types.Category) {
	c.catMu.Lock()
	delete(c.catCounts, cat)
	c.catMu.Unlock()
}

// HashSetNames returns the sorted names of every hash set any cached file
// hits. The list is cached until a new hash set is recorded.
func (c *Cache) HashSetNames(ctx context.Context) ([]string, error) {
	c.catMu.Lock()
	if c.hashNamesOK {
		names := c.hashNames
		c.catMu.Unlock()
		return names, nil
	}
	c.catMu.Unlock()

	c.mu.Lock()
	rows, err := c.stmts.allHashSetNames.QueryContext(ctx)
	if err != nil {
		c.mu.Unlock()
		return nil, errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to list hash sets", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			c.mu.Unlock()
			return nil, errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to scan hash set name", err)
		}
		names = append(names, name)
	}
	err = rows.Err()
	rows.Close()
	c.mu.Unlock()
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeQueryFailed, "cache: hash set scan aborted", err)
	}

	c.catMu.Lock()
	c.hashNames = names
	c.hashNamesOK = true
	c.catMu.Unlock()
	return names, nil
}

func (c *Cache) invalidateHashSetNames() {
	c.catMu.Lock()
	c.hashNames = nil
	c.hashNamesOK = false
	c.catMu.Unlock()
}
