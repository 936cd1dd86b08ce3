// Package cache implements the per-case drawable metadata cache: a private
// SQLite file mirroring drawable-file metadata out of the shared case
// database, plus the in-memory indexes and short-lived caches that make
// grouping queries fast during ingest and review.
package cache

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/drawabledb/drawabledb/internal/errors"
	"github.com/drawabledb/drawabledb/internal/observability"
	"github.com/drawabledb/drawabledb/internal/schema"
	"github.com/drawabledb/drawabledb/internal/sharedb"
	"github.com/drawabledb/drawabledb/pkg/types"
)

// Options configures a cache instance. The zero value is usable; missing
// fields fall back to the defaults below.
type Options struct {
	// Path is the private cache file. Required.
	Path string

	// GroupCacheTTL and SeenCacheTTL bound how stale the write-avoidance
	// caches may be relative to other examiner nodes.
	GroupCacheTTL time.Duration
	SeenCacheTTL  time.Duration

	GroupCacheSize int
	SeenCacheSize  int
	VideoCacheSize int

	// IsVideo classifies a file name as video content. Defaults to an
	// extension check.
	IsVideo func(name string) bool
}

const (
	defaultGroupCacheTTL = 5 * time.Minute
	defaultSeenCacheTTL  = 5 * time.Minute
	defaultCacheSize     = 10000
)

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".avi": {}, ".mkv": {}, ".wmv": {},
	".webm": {}, ".mpg": {}, ".mpeg": {}, ".3gp": {}, ".flv": {},
}

func defaultIsVideo(name string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Cache is one examiner node's drawable cache for one case. All private-store
// access is serialized behind mu; shared-store access goes through sharedb
// and tolerates concurrent nodes.
type Cache struct {
	db     *sql.DB
	shared *sharedb.DB
	source sharedb.CaseSource
	obs    sharedb.GroupObserver
	log    *slog.Logger
	stats  *observability.CacheStats
	report schema.OpenReport

	mu     sync.Mutex
	closed bool
	txOpen atomic.Bool

	stmts *statements
	idx   *knownIndex
	meta  *metaCaches

	groupCache *expirable.LRU[string, bool]
	seenCache  *expirable.LRU[string, bool]
	videoCache *expirable.LRU[types.FileID, bool]
	isVideo    func(name string) bool

	catMu       sync.Mutex
	catCounts   map[types.Category]int64
	hashNames   []string
	hashNamesOK bool
}

// New opens (creating or upgrading as needed) the private cache file and
// builds the in-memory known-id index from it. The observer may be nil.
func New(ctx context.Context, opts Options, shared *sharedb.DB, source sharedb.CaseSource, observer sharedb.GroupObserver, logger *slog.Logger) (*Cache, error) {
	if opts.Path == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, "cache: path is required")
	}
	if shared == nil || source == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, "cache: shared db and case source are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GroupCacheTTL <= 0 {
		opts.GroupCacheTTL = defaultGroupCacheTTL
	}
	if opts.SeenCacheTTL <= 0 {
		opts.SeenCacheTTL = defaultSeenCacheTTL
	}
	if opts.GroupCacheSize <= 0 {
		opts.GroupCacheSize = defaultCacheSize
	}
	if opts.SeenCacheSize <= 0 {
		opts.SeenCacheSize = defaultCacheSize
	}
	if opts.VideoCacheSize <= 0 {
		opts.VideoCacheSize = defaultCacheSize
	}
	if opts.IsVideo == nil {
		opts.IsVideo = defaultIsVideo
	}

	db, report, err := schema.Open(ctx, opts.Path, shared, logger)
	if err != nil {
		return nil, err
	}

	stmts, err := prepareStatements(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &Cache{
		db:         db,
		shared:     shared,
		source:     source,
		obs:        observer,
		log:        logger.With("component", "drawable-cache"),
		stats:      observability.NewCacheStats(time.Hour),
		report:     report,
		stmts:      stmts,
		idx:        newKnownIndex(),
		meta:       &metaCaches{},
		groupCache: expirable.NewLRU[string, bool](opts.GroupCacheSize, nil, opts.GroupCacheTTL),
		seenCache:  expirable.NewLRU[string, bool](opts.SeenCacheSize, nil, opts.SeenCacheTTL),
		videoCache: expirable.NewLRU[types.FileID, bool](opts.VideoCacheSize, nil, 0),
		isVideo:    opts.IsVideo,
		catCounts:  make(map[types.Category]int64),
	}

	if err := c.loadKnownIDs(ctx); err != nil {
		c.Close()
		return nil, err
	}

	c.log.Info("drawable cache opened",
		"path", opts.Path,
		"created", report.CreatedNew,
		"rebuilt", report.Rebuilt,
		"schema", report.ToVersion.String(),
		"build_id", report.BuildID.String(),
		"known_files", c.idx.count(),
	)
	return c, nil
}

func (c *Cache) loadKnownIDs(ctx context.Context) error {
	rows, err := c.stmts.allIDs.QueryContext(ctx)
	if err != nil {
		return errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to scan known ids", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id types.FileID
		if err := rows.Scan(&id); err != nil {
			return errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to scan known id row", err)
		}
		c.idx.add(id)
	}
	if err := rows.Err(); err != nil {
		return errors.NewStorageError(errors.CodeQueryFailed, "cache: known-id scan aborted", err)
	}
	return nil
}

// Report returns details of how the private store was opened.
func (c *Cache) Report() schema.OpenReport { return c.report }

// Stats returns the instance activity tracker.
func (c *Cache) Stats() *observability.CacheStats { return c.stats }

// IsKnown reports whether the file id is present in the cache, answered
// purely from the in-memory index.
func (c *Cache) IsKnown(id types.FileID) bool { return c.idx.contains(id) }

// CountAllFiles returns the number of cached files.
func (c *Cache) CountAllFiles() int64 { return c.idx.count() }

// IsVideoFile classifies the file, memoizing the verdict per id.
func (c *Cache) IsVideoFile(id types.FileID, name string) bool {
	if v, ok := c.videoCache.Get(id); ok {
		videoCacheHits.Inc()
		return v
	}
	videoCacheMisses.Inc()
	v := c.isVideo(name)
	c.videoCache.Add(id, v)
	return v
}

// Close releases the prepared statements and the private store. A close with
// a transaction still open is a programming error and panics.
func (c *Cache) Close() error {
	if c.txOpen.Load() {
		panic("drawabledb: cache closed with an open transaction")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.stmts.close()
	if err := c.db.Close(); err != nil {
		return errors.NewStorageError(errors.CodeOpenFailed, "cache: failed to close private store", err)
	}
	return nil
}
