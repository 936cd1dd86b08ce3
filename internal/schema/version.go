package schema

import "fmt"

// Version is a (major, minor) schema version pair.
type Version struct {
	Major int
	Minor int
}

// CurrentVersion is the schema version this build creates and upgrades to.
var CurrentVersion = Version{Major: 2, Minor: 0}

// StartingVersion is the synthetic version recorded for a pre-versioning
// database (one with no version table at all).
var StartingVersion = Version{Major: 1, Minor: 0}

// Less reports whether v precedes other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

// Equal reports whether the versions match exactly.
func (v Version) Equal(other Version) bool {
	return v.Major == other.Major && v.Minor == other.Minor
}

// String formats the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// minVersion returns the earlier of two versions. Upgrades start from the
// minimum of the two stores' versions, so a partial upgrade (one store
// committed, the other not) is re-run from the lagging store's version.
func minVersion(a, b Version) Version {
	if a.Less(b) {
		return a
	}
	return b
}
