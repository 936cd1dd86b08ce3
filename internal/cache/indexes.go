package cache

import (
	"context"
	"sync"

	"github.com/drawabledb/drawabledb/internal/errors"
	"github.com/drawabledb/drawabledb/pkg/types"
)

// knownIndex mirrors the set of obj_ids present in the private store. It is
// kept exactly in sync with committed state: transaction rollback un-applies
// any ids the transaction added or dropped.
type knownIndex struct {
	mu  sync.RWMutex
	ids map[types.FileID]struct{}
}

func newKnownIndex() *knownIndex {
	return &knownIndex{ids: make(map[types.FileID]struct{})}
}

func (x *knownIndex) contains(id types.FileID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.ids[id]
	return ok
}

func (x *knownIndex) count() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(len(x.ids))
}

// add records id as known and reports whether it was newly added.
func (x *knownIndex) add(id types.FileID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.ids[id]; ok {
		return false
	}
	x.ids[id] = struct{}{}
	return true
}

// drop forgets id and reports whether it was present.
func (x *knownIndex) drop(id types.FileID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.ids[id]; !ok {
		return false
	}
	delete(x.ids, id)
	return true
}

// metaCaches are the attribute-presence sets: which ids have tags, hash hits
// or EXIF in the shared store. They are expensive full scans, so they load
// on demand and stay resident only while at least one handle is open.
type metaCaches struct {
	mu     sync.Mutex
	refs   int
	tags   map[types.FileID]struct{}
	hashes map[types.FileID]struct{}
	exif   map[types.FileID]struct{}
}

// MetaCacheHandle scopes one user of the presence caches. Close releases the
// reference; when the last handle closes the sets are discarded.
type MetaCacheHandle struct {
	m    *metaCaches
	once sync.Once
}

// Close releases the handle. Safe to call more than once.
func (h *MetaCacheHandle) Close() {
	h.once.Do(func() {
		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		h.m.refs--
		if h.m.refs == 0 {
			h.m.tags, h.m.hashes, h.m.exif = nil, nil, nil
		}
	})
}

// AcquireMetaCache loads the attribute-presence caches (first caller pays
// the scans) and returns a handle that must be closed when the bulk
// operation finishes.
func (c *Cache) AcquireMetaCache(ctx context.Context) (*MetaCacheHandle, error) {
	c.meta.mu.Lock()
	defer c.meta.mu.Unlock()

	if c.meta.refs == 0 {
		tags, err := c.source.FileIDsWithTags(ctx)
		if err != nil {
			return nil, errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to load tag presence", err)
		}
		hashes, err := c.source.FileIDsWithHashHits(ctx)
		if err != nil {
			return nil, errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to load hash-hit presence", err)
		}
		exif, err := c.source.FileIDsWithExif(ctx)
		if err != nil {
			return nil, errors.NewStorageError(errors.CodeQueryFailed, "cache: failed to load exif presence", err)
		}
		c.meta.tags = toSet(tags)
		c.meta.hashes = toSet(hashes)
		c.meta.exif = toSet(exif)
	}
	c.meta.refs++
	return &MetaCacheHandle{m: c.meta}, nil
}

func toSet(ids []types.FileID) map[types.FileID]struct{} {
	set := make(map[types.FileID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// mightHaveHashHits reports whether id may have hash-set hits. When the
// presence caches are not loaded the answer is conservatively true.
func (m *metaCaches) mightHaveHashHits(id types.FileID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashes == nil {
		return true
	}
	if _, ok := m.hashes[id]; ok {
		return true
	}
	metaCacheSkips.Inc()
	return false
}

// mightHaveTags and mightHaveExif follow the same conservative contract.
func (m *metaCaches) mightHaveTags(id types.FileID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tags == nil {
		return true
	}
	_, ok := m.tags[id]
	if !ok {
		metaCacheSkips.Inc()
	}
	return ok
}

func (m *metaCaches) mightHaveExif(id types.FileID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exif == nil {
		return true
	}
	_, ok := m.exif[id]
	if !ok {
		metaCacheSkips.Inc()
	}
	return ok
}

// noteHashHit records a freshly written hit so a loaded cache stays current.
func (m *metaCaches) noteHashHit(id types.FileID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashes != nil {
		m.hashes[id] = struct{}{}
	}
}

// forget drops id from every loaded presence set.
func (m *metaCaches) forget(id types.FileID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range []map[types.FileID]struct{}{m.tags, m.hashes, m.exif} {
		if set != nil {
			delete(set, id)
		}
	}
}
