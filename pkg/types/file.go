// Package types defines the core domain types shared across the drawabledb
// cache: file records, groupable attributes, group keys, and categories.
package types

// FileID is the stable 64-bit identifier of a drawable file. It is shared
// with the case database and never reused.
type FileID int64

// DataSourceID identifies the data source (forensic image) a file was
// extracted from.
type DataSourceID int64

// DrawableFile is the metadata record the cache stores for one media file.
// Tag, category, hash-set and MIME facts are not carried here; they live in
// the shared case database and are resolved through a CaseSource.
type DrawableFile struct {
	ID           FileID
	DataSourceID DataSourceID

	// Path is the containing directory of the file within the image.
	Path string
	// Name is the display name of the file.
	Name string

	// CreatedTime and ModifiedTime are unix seconds; zero means unknown.
	CreatedTime  int64
	ModifiedTime int64

	// Make and Model are the camera make/model from EXIF, if any.
	Make  string
	Model string

	// Width and Height are pixel dimensions, zero when not yet extracted.
	Width  int
	Height int

	// Analyzed is set once all ingest modules have finished with the file.
	Analyzed bool
}

// BuildStatus describes whether the cache contents for a data source are
// trustworthy.
type BuildStatus int

const (
	BuildStatusUnknown BuildStatus = iota
	BuildStatusInProgress
	BuildStatusComplete
	BuildStatusRebuiltStale
)

// String returns the status name.
func (s BuildStatus) String() string {
	switch s {
	case BuildStatusUnknown:
		return "UNKNOWN"
	case BuildStatusInProgress:
		return "IN_PROGRESS"
	case BuildStatusComplete:
		return "COMPLETE"
	case BuildStatusRebuiltStale:
		return "REBUILT_STALE"
	default:
		return "INVALID"
	}
}
