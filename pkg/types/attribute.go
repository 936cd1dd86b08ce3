package types

import (
	"fmt"
	"strconv"

	"github.com/spaolacci/murmur3"
)

// Attribute is the closed set of attribute kinds a drawable file can be
// grouped or queried by. A subset of kinds (IsDBColumn) are physical columns
// of the private cache; the rest are resolved through the shared case
// database.
type Attribute int

const (
	AttrPath Attribute = iota
	AttrName
	AttrCreated
	AttrModified
	AttrMake
	AttrModel
	AttrHashSet
	AttrAnalyzed
	AttrCategory
	AttrTags
	AttrMimeType
	AttrObjID
	AttrWidth
	AttrHeight
)

// attrNames are also the attribute values stored in the shared groups table,
// so they must stay stable across releases.
var attrNames = [...]string{
	AttrPath:     "path",
	AttrName:     "name",
	AttrCreated:  "created_time",
	AttrModified: "modified_time",
	AttrMake:     "make",
	AttrModel:    "model",
	AttrHashSet:  "hash_set",
	AttrAnalyzed: "analyzed",
	AttrCategory: "category",
	AttrTags:     "tags",
	AttrMimeType: "mime_type",
	AttrObjID:    "obj_id",
	AttrWidth:    "width",
	AttrHeight:   "height",
}

// String returns the stable wire name of the attribute.
func (a Attribute) String() string {
	if a < 0 || int(a) >= len(attrNames) {
		return fmt.Sprintf("attribute(%d)", int(a))
	}
	return attrNames[a]
}

// IsDBColumn reports whether the attribute is stored as a physical column
// (or join) of the private cache. Group lookups for the remaining kinds must
// go through the shared case database.
func (a Attribute) IsDBColumn() bool {
	switch a {
	case AttrPath, AttrName, AttrCreated, AttrModified, AttrMake, AttrModel,
		AttrHashSet, AttrAnalyzed:
		return true
	default:
		return false
	}
}

// IsGroupable reports whether files can be grouped by the attribute.
func (a Attribute) IsGroupable() bool {
	switch a {
	case AttrObjID, AttrWidth, AttrHeight:
		return false
	default:
		return true
	}
}

// GroupableDBAttributes lists the attributes whose group rows are created
// during ingest from values carried on the file record itself. Hash-set
// groups are created separately, after hit resolution.
var GroupableDBAttributes = []Attribute{
	AttrPath, AttrName, AttrCreated, AttrModified, AttrMake, AttrModel, AttrAnalyzed,
}

// ExtractValues returns the group values the file exhibits for the
// attribute. It is a pure function: kinds that cannot be derived from the
// record alone (tags, category, MIME type) return nil, and zero-valued
// fields yield no values.
func (a Attribute) ExtractValues(f *DrawableFile) []string {
	switch a {
	case AttrPath:
		return nonEmpty(f.Path)
	case AttrName:
		return nonEmpty(f.Name)
	case AttrCreated:
		return nonZeroTime(f.CreatedTime)
	case AttrModified:
		return nonZeroTime(f.ModifiedTime)
	case AttrMake:
		return nonEmpty(f.Make)
	case AttrModel:
		return nonEmpty(f.Model)
	case AttrAnalyzed:
		if f.Analyzed {
			return []string{"1"}
		}
		return []string{"0"}
	case AttrObjID:
		return []string{strconv.FormatInt(int64(f.ID), 10)}
	case AttrWidth:
		if f.Width == 0 {
			return nil
		}
		return []string{strconv.Itoa(f.Width)}
	case AttrHeight:
		if f.Height == 0 {
			return nil
		}
		return []string{strconv.Itoa(f.Height)}
	default:
		// hash_set, category, tags, mime_type: resolved from the shared store.
		return nil
	}
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

func nonZeroTime(v int64) []string {
	if v == 0 {
		return nil
	}
	return []string{strconv.FormatInt(v, 10)}
}

// GroupKey identifies a group: one attribute value, optionally namespaced by
// data source. Only path groups are per data source; every other kind uses
// the constant zero namespace, so e.g. two images sharing a camera make
// collapse into one group regardless of source.
type GroupKey struct {
	Attr         Attribute
	Value        string
	DataSourceID DataSourceID
}

// NewGroupKey builds a normalized group key. The data source id is dropped
// for every attribute except path.
func NewGroupKey(attr Attribute, value string, ds DataSourceID) GroupKey {
	if attr != AttrPath {
		ds = 0
	}
	return GroupKey{Attr: attr, Value: value, DataSourceID: ds}
}

// String returns a canonical encoding of the key.
func (k GroupKey) String() string {
	return k.Attr.String() + "/" + k.Value + "/" + strconv.FormatInt(int64(k.DataSourceID), 10)
}

// ID returns the stable 64-bit group id derived from the key. Independent
// cache instances hash to the same id without coordination, which is what
// lets group rows be upserted concurrently from multiple nodes.
func (k GroupKey) ID() int64 {
	return int64(murmur3.Sum64([]byte(k.String())))
}
