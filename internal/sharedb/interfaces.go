package sharedb

import (
	"context"

	"github.com/drawabledb/drawabledb/pkg/types"
)

// CaseSource is the host platform's tag/artifact query service. The cache
// delegates to it for every attribute kind that is not a physical column of
// the private store, and for the bulk scans behind the attribute-presence
// caches.
type CaseSource interface {
	// FileIDsWithTags returns every file id that has at least one tag.
	FileIDsWithTags(ctx context.Context) ([]types.FileID, error)

	// FileIDsWithHashHits returns every file id with at least one hash-set hit.
	FileIDsWithHashHits(ctx context.Context) ([]types.FileID, error)

	// FileIDsWithExif returns every file id with EXIF metadata recorded.
	FileIDsWithExif(ctx context.Context) ([]types.FileID, error)

	// HashSetsForFile returns the names of the hash sets the file hits.
	HashSetsForFile(ctx context.Context, id types.FileID) ([]string, error)

	// IDsWithTagValue returns the file ids tagged with the given tag name.
	IDsWithTagValue(ctx context.Context, tag string) ([]types.FileID, error)

	// IDsInCategory returns the file ids assigned to the category.
	IDsInCategory(ctx context.Context, cat types.Category) ([]types.FileID, error)

	// IDsWithMimeType returns the file ids with the given MIME type.
	IDsWithMimeType(ctx context.Context, mime string) ([]types.FileID, error)
}

// GroupObserver is notified after a cache transaction commits, with the ids
// that were upserted and removed, in insertion order. The notification runs
// outside the cache lock, so an observer may re-enter the cache.
type GroupObserver interface {
	GroupsChanged(updated, removed []types.FileID)
}
