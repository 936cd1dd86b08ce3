package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/drawabledb/drawabledb/internal/sharedb"
	"github.com/drawabledb/drawabledb/pkg/types"
)

// propCache builds a fresh cache per property iteration; nth keeps the
// private files apart within one TempDir.
type propEnv struct {
	t   *testing.T
	dir string
	n   int
}

func (e *propEnv) next(src sharedb.CaseSource) (*Cache, *sharedb.DB) {
	e.n++
	shared := newTestShared(e.t)
	c, err := New(context.Background(), Options{
		Path: filepath.Join(e.dir, fmt.Sprintf("drawable-%d.db", e.n)),
	}, shared, src, nil, nil)
	if err != nil {
		e.t.Fatalf("failed to build cache: %v", err)
	}
	e.t.Cleanup(func() { c.Close() })
	return c, shared
}

// fileFromSeed derives a full record deterministically from a small id so
// shrunk counterexamples stay readable.
func fileFromSeed(id int64) *types.DrawableFile {
	return &types.DrawableFile{
		ID:           types.FileID(id),
		DataSourceID: types.DataSourceID(1 + id%3),
		Path:         "/img/" + strconv.FormatInt(id%5, 10),
		Name:         "f" + strconv.FormatInt(id, 10) + ".jpg",
		Make:         []string{"", "Acme", "Nikon"}[id%3],
		CreatedTime:  (id % 4) * 1000,
		Analyzed:     id%2 == 0,
	}
}

func idSetOf(c *Cache, upTo int64) map[types.FileID]bool {
	set := make(map[types.FileID]bool)
	for id := types.FileID(1); int64(id) <= upTo; id++ {
		if c.IsKnown(id) {
			set[id] = true
		}
	}
	return set
}

// TestProperty_UpsertIdempotence validates that re-applying any batch of
// file records changes nothing: same cached ids, same shared group rows, no
// extra group writes.
func TestProperty_UpsertIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)
	env := &propEnv{t: t, dir: t.TempDir()}

	properties.Property("a repeated batch is a no-op", prop.ForAll(
		func(seeds []int64) bool {
			ctx := context.Background()
			c, shared := env.next(newFakeSource())

			apply := func() bool {
				tx, err := c.BeginTransaction(ctx)
				if err != nil {
					return false
				}
				for _, seed := range seeds {
					if err := c.UpsertFile(ctx, fileFromSeed(seed), true, tx); err != nil {
						tx.Rollback()
						return false
					}
				}
				return tx.Commit(false) == nil
			}

			if !apply() {
				return false
			}
			count := c.CountAllFiles()
			writes := c.Stats().Snapshot().GroupWrites

			if !apply() {
				return false
			}
			if c.CountAllFiles() != count {
				return false
			}
			if c.Stats().Snapshot().GroupWrites != writes {
				return false
			}

			var groups int
			if err := shared.Handle().QueryRowContext(ctx,
				"SELECT COUNT(*) FROM image_gallery_groups").Scan(&groups); err != nil {
				return false
			}
			// Every group has at least one distinct key behind it; a repeat
			// batch must not have minted new rows.
			return groups > 0 == (len(seeds) > 0)
		},
		gen.SliceOf(gen.Int64Range(1, 40)),
	))

	properties.TestingRun(t)
}

// TestProperty_RollbackAtomicity validates that rolling back any batch of
// upserts and removes leaves the known-id index exactly where it started.
func TestProperty_RollbackAtomicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)
	env := &propEnv{t: t, dir: t.TempDir()}

	properties.Property("rollback restores the known-id index", prop.ForAll(
		func(committed, aborted []int64) bool {
			ctx := context.Background()
			c, _ := env.next(newFakeSource())

			tx, err := c.BeginTransaction(ctx)
			if err != nil {
				return false
			}
			for _, seed := range committed {
				if err := c.UpsertFile(ctx, fileFromSeed(seed), false, tx); err != nil {
					tx.Rollback()
					return false
				}
			}
			if err := tx.Commit(false); err != nil {
				return false
			}
			before := idSetOf(c, 80)

			tx, err = c.BeginTransaction(ctx)
			if err != nil {
				return false
			}
			for i, seed := range aborted {
				var err error
				if i%2 == 0 {
					err = c.UpsertFile(ctx, fileFromSeed(seed), false, tx)
				} else {
					err = c.RemoveFile(ctx, types.FileID(seed), tx)
				}
				if err != nil {
					tx.Rollback()
					return false
				}
			}
			if err := tx.Rollback(); err != nil {
				return false
			}

			after := idSetOf(c, 80)
			if len(after) != len(before) {
				return false
			}
			for id := range before {
				if !after[id] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(1, 40)),
		gen.SliceOf(gen.Int64Range(1, 80)),
	))

	properties.TestingRun(t)
}

// TestProperty_GroupImmortality validates that removing files never removes
// shared group rows; only a data-source removal deletes its path groups.
func TestProperty_GroupImmortality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)
	env := &propEnv{t: t, dir: t.TempDir()}

	properties.Property("groups outlive their members", prop.ForAll(
		func(seeds []int64) bool {
			ctx := context.Background()
			c, shared := env.next(newFakeSource())

			tx, err := c.BeginTransaction(ctx)
			if err != nil {
				return false
			}
			for _, seed := range seeds {
				if err := c.UpsertFile(ctx, fileFromSeed(seed), true, tx); err != nil {
					tx.Rollback()
					return false
				}
			}
			if err := tx.Commit(false); err != nil {
				return false
			}

			var before int
			if err := shared.Handle().QueryRowContext(ctx,
				"SELECT COUNT(*) FROM image_gallery_groups").Scan(&before); err != nil {
				return false
			}

			tx, err = c.BeginTransaction(ctx)
			if err != nil {
				return false
			}
			for _, seed := range seeds {
				if err := c.RemoveFile(ctx, types.FileID(seed), tx); err != nil {
					tx.Rollback()
					return false
				}
			}
			if err := tx.Commit(false); err != nil {
				return false
			}

			var after int
			if err := shared.Handle().QueryRowContext(ctx,
				"SELECT COUNT(*) FROM image_gallery_groups").Scan(&after); err != nil {
				return false
			}
			return c.CountAllFiles() == 0 && after == before
		},
		gen.SliceOf(gen.Int64Range(1, 40)),
	))

	properties.TestingRun(t)
}

// TestProperty_UncategorizedBySubtraction validates that the category counts
// partition the cached files: CAT-0 always equals total minus the explicit
// categories, never negative.
func TestProperty_UncategorizedBySubtraction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)
	env := &propEnv{t: t, dir: t.TempDir()}

	properties.Property("category counts partition the cache", prop.ForAll(
		func(total int, catSizes []int) bool {
			ctx := context.Background()
			src := newFakeSource()

			// Assign a prefix of the files to explicit categories.
			next := types.FileID(1)
			for i, size := range catSizes {
				if i >= 5 {
					break
				}
				cat := types.Category(i + 1)
				for j := 0; j < size && int(next) <= total; j++ {
					src.categories[cat] = append(src.categories[cat], next)
					next++
				}
			}

			c, _ := env.next(src)
			tx, err := c.BeginTransaction(ctx)
			if err != nil {
				return false
			}
			for id := 1; id <= total; id++ {
				if err := c.UpsertFile(ctx, fileFromSeed(int64(id)), false, tx); err != nil {
					tx.Rollback()
					return false
				}
			}
			if err := tx.Commit(false); err != nil {
				return false
			}

			var explicit int64
			for _, cat := range types.AllCategories {
				if cat == types.CategoryZero {
					continue
				}
				n, err := c.CountFilesWithCategory(ctx, cat)
				if err != nil {
					return false
				}
				explicit += n
			}
			zero, err := c.CountFilesWithCategory(ctx, types.CategoryZero)
			if err != nil {
				return false
			}
			return zero >= 0 && zero == int64(total)-explicit
		},
		gen.IntRange(0, 30),
		gen.SliceOfN(5, gen.IntRange(0, 8)),
	))

	properties.TestingRun(t)
}
