package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/drawabledb/drawabledb/internal/sharedb"
	"github.com/drawabledb/drawabledb/pkg/types"
)

// fakeSource is an in-memory stand-in for the host's tag/artifact service.
type fakeSource struct {
	mu         sync.Mutex
	tags       []types.FileID
	hashHits   []types.FileID
	exif       []types.FileID
	setsByFile map[types.FileID][]string
	tagValues  map[string][]types.FileID
	categories map[types.Category][]types.FileID
	mimes      map[string][]types.FileID

	hashSetCalls int
	err          error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		setsByFile: make(map[types.FileID][]string),
		tagValues:  make(map[string][]types.FileID),
		categories: make(map[types.Category][]types.FileID),
		mimes:      make(map[string][]types.FileID),
	}
}

func (f *fakeSource) FileIDsWithTags(ctx context.Context) ([]types.FileID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tags, f.err
}

func (f *fakeSource) FileIDsWithHashHits(ctx context.Context) ([]types.FileID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashHits, f.err
}

func (f *fakeSource) FileIDsWithExif(ctx context.Context) ([]types.FileID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exif, f.err
}

func (f *fakeSource) HashSetsForFile(ctx context.Context, id types.FileID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashSetCalls++
	return f.setsByFile[id], f.err
}

func (f *fakeSource) IDsWithTagValue(ctx context.Context, tag string) ([]types.FileID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tagValues[tag], f.err
}

func (f *fakeSource) IDsInCategory(ctx context.Context, cat types.Category) ([]types.FileID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories[cat], f.err
}

func (f *fakeSource) IDsWithMimeType(ctx context.Context, mime string) ([]types.FileID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mimes[mime], f.err
}

// fakeObserver records commit notifications in order.
type fakeObserver struct {
	mu      sync.Mutex
	updated [][]types.FileID
	removed [][]types.FileID
}

func (o *fakeObserver) GroupsChanged(updated, removed []types.FileID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updated = append(o.updated, updated)
	o.removed = append(o.removed, removed)
}

func newTestShared(t *testing.T) *sharedb.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "case.db")
	raw, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sharedb.New(raw, nil)
}

func newTestCache(t *testing.T, src sharedb.CaseSource, obs sharedb.GroupObserver) (*Cache, *sharedb.DB) {
	t.Helper()
	shared := newTestShared(t)
	c, err := New(context.Background(), Options{
		Path: filepath.Join(t.TempDir(), "drawable.db"),
	}, shared, src, obs, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, shared
}

func testFile(id types.FileID, ds types.DataSourceID, path, name string) *types.DrawableFile {
	return &types.DrawableFile{ID: id, DataSourceID: ds, Path: path, Name: name}
}

func upsertOne(t *testing.T, c *Cache, f *types.DrawableFile, withGroups bool) {
	t.Helper()
	ctx := context.Background()
	tx, err := c.BeginTransaction(ctx)
	require.NoError(t, err)
	if err := c.UpsertFile(ctx, f, withGroups, tx); err != nil {
		tx.Rollback()
		t.Fatalf("upsert failed: %v", err)
	}
	require.NoError(t, tx.Commit(true))
}

func TestNew_RequiresPathAndCollaborators(t *testing.T) {
	shared := newTestShared(t)
	_, err := New(context.Background(), Options{}, shared, newFakeSource(), nil, nil)
	require.Error(t, err)

	_, err = New(context.Background(), Options{Path: "x.db"}, nil, newFakeSource(), nil, nil)
	require.Error(t, err)
}

func TestIngestScenario(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.setsByFile[42] = []string{"notable"}
	obs := &fakeObserver{}
	c, shared := newTestCache(t, src, obs)

	f := &types.DrawableFile{
		ID: 42, DataSourceID: 1,
		Path: "/img", Name: "a.jpg",
		Make: "Canon",
	}
	upsertOne(t, c, f, true)

	require.True(t, c.IsKnown(42))
	require.Equal(t, int64(1), c.CountAllFiles())

	makeGroup := types.NewGroupKey(types.AttrMake, "Canon", 0)
	require.Equal(t, []types.FileID{42}, c.IDsInGroup(ctx, makeGroup))

	hashGroup := types.NewGroupKey(types.AttrHashSet, "notable", 0)
	require.Equal(t, []types.FileID{42}, c.IDsInGroup(ctx, hashGroup))

	// Group rows landed in the shared store, path groups unanalyzed.
	for _, tc := range []struct {
		key      types.GroupKey
		analyzed bool
	}{
		{types.NewGroupKey(types.AttrPath, "/img", 1), false},
		{makeGroup, true},
		{hashGroup, true},
	} {
		exists, err := shared.GroupExists(ctx, tc.key)
		require.NoError(t, err)
		require.True(t, exists, "group %s", tc.key)
		analyzed, err := shared.IsGroupAnalyzed(ctx, tc.key)
		require.NoError(t, err)
		require.Equal(t, tc.analyzed, analyzed, "group %s", tc.key)
	}

	require.Len(t, obs.updated, 1)
	require.Equal(t, []types.FileID{42}, obs.updated[0])

	names, err := c.HashSetNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"notable"}, names)
}

func TestReopenRebuildsKnownIndex(t *testing.T) {
	shared := newTestShared(t)
	path := filepath.Join(t.TempDir(), "drawable.db")
	src := newFakeSource()

	c, err := New(context.Background(), Options{Path: path}, shared, src, nil, nil)
	require.NoError(t, err)
	upsertOne(t, c, testFile(1, 1, "/a", "a.jpg"), false)
	upsertOne(t, c, testFile(2, 1, "/a", "b.jpg"), false)
	require.NoError(t, c.Close())

	c, err = New(context.Background(), Options{Path: path}, shared, src, nil, nil)
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.IsKnown(1))
	require.True(t, c.IsKnown(2))
	require.False(t, c.IsKnown(3))
	require.Equal(t, int64(2), c.CountAllFiles())
}

func TestIsVideoFile_Memoizes(t *testing.T) {
	calls := 0
	src := newFakeSource()
	shared := newTestShared(t)
	c, err := New(context.Background(), Options{
		Path: filepath.Join(t.TempDir(), "drawable.db"),
		IsVideo: func(name string) bool {
			calls++
			return name == "clip.mp4"
		},
	}, shared, src, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.IsVideoFile(1, "clip.mp4"))
	require.True(t, c.IsVideoFile(1, "clip.mp4"))
	require.False(t, c.IsVideoFile(2, "pic.jpg"))
	require.Equal(t, 2, calls, "classifier runs once per id")
}

func TestDefaultVideoClassifier(t *testing.T) {
	require.True(t, defaultIsVideo("A.MP4"))
	require.True(t, defaultIsVideo("b.webm"))
	require.False(t, defaultIsVideo("c.jpg"))
	require.False(t, defaultIsVideo("noext"))
}

func TestMetaCache_RefCountingAndConservatism(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.hashHits = []types.FileID{7}
	c, _ := newTestCache(t, src, nil)

	// Unloaded: every id might have hits.
	require.True(t, c.meta.mightHaveHashHits(7))
	require.True(t, c.meta.mightHaveHashHits(8))

	h1, err := c.AcquireMetaCache(ctx)
	require.NoError(t, err)
	h2, err := c.AcquireMetaCache(ctx)
	require.NoError(t, err)

	require.True(t, c.meta.mightHaveHashHits(7))
	require.False(t, c.meta.mightHaveHashHits(8))

	h1.Close()
	h1.Close() // double close is safe
	require.False(t, c.meta.mightHaveHashHits(8), "still loaded while a handle remains")

	h2.Close()
	require.True(t, c.meta.mightHaveHashHits(8), "released when the last handle closes")
}

func TestMetaCache_SkipsHashResolutionDuringUpsert(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.hashHits = []types.FileID{1}
	src.setsByFile[1] = []string{"notable"}
	c, _ := newTestCache(t, src, nil)

	h, err := c.AcquireMetaCache(ctx)
	require.NoError(t, err)
	defer h.Close()

	upsertOne(t, c, testFile(1, 1, "/a", "a.jpg"), true)
	upsertOne(t, c, testFile(2, 1, "/a", "b.jpg"), true)

	require.Equal(t, 1, src.hashSetCalls, "only the id with recorded hits is resolved")
}

func TestUpsertFastPath_MarksSharedFactsAbsent(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.hashHits = []types.FileID{7}
	src.setsByFile[7] = []string{"notable"}
	c, _ := newTestCache(t, src, nil)

	h, err := c.AcquireMetaCache(ctx)
	require.NoError(t, err)
	defer h.Close()

	// Bulk pre-population declares the id fact-free so the later full
	// upsert sweep skips its joins.
	upsertOne(t, c, testFile(7, 1, "/a", "a.jpg"), false)
	require.False(t, c.meta.mightHaveHashHits(7))

	upsertOne(t, c, testFile(7, 1, "/a", "a.jpg"), true)
	require.Zero(t, src.hashSetCalls)
}
