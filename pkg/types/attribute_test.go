package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttributeNamesAreStable(t *testing.T) {
	// These names are persisted in shared group rows; changing one silently
	// orphans every existing group of that kind.
	want := map[Attribute]string{
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
	for attr, name := range want {
		require.Equal(t, name, attr.String())
	}
	require.Equal(t, "attribute(99)", Attribute(99).String())
}

func TestNewGroupKey_NamespaceCollapse(t *testing.T) {
	// Only path groups are per data source.
	pathKey := NewGroupKey(AttrPath, "/a", 7)
	require.Equal(t, DataSourceID(7), pathKey.DataSourceID)

	makeKey := NewGroupKey(AttrMake, "Acme", 7)
	require.Equal(t, DataSourceID(0), makeKey.DataSourceID)
	require.Equal(t, NewGroupKey(AttrMake, "Acme", 9), makeKey,
		"non-path groups collapse across data sources")
}

func TestGroupKeyID_StableAndDistinct(t *testing.T) {
	a := NewGroupKey(AttrPath, "/a", 1)
	require.Equal(t, a.ID(), NewGroupKey(AttrPath, "/a", 1).ID(),
		"independent instances derive the same id")

	seen := map[int64]string{}
	keys := []GroupKey{
		a,
		NewGroupKey(AttrPath, "/a", 2),
		NewGroupKey(AttrPath, "/b", 1),
		NewGroupKey(AttrName, "/a", 0),
		NewGroupKey(AttrMake, "Acme", 0),
	}
	for _, k := range keys {
		if prev, dup := seen[k.ID()]; dup {
			t.Fatalf("id collision between %s and %s", prev, k)
		}
		seen[k.ID()] = k.String()
	}
}

func TestExtractValues(t *testing.T) {
	f := &DrawableFile{
		ID: 42, DataSourceID: 1,
		Path: "/img", Name: "a.jpg",
		CreatedTime: 100,
		Make:        "Acme",
	}

	require.Equal(t, []string{"/img"}, AttrPath.ExtractValues(f))
	require.Equal(t, []string{"a.jpg"}, AttrName.ExtractValues(f))
	require.Equal(t, []string{"100"}, AttrCreated.ExtractValues(f))
	require.Equal(t, []string{"Acme"}, AttrMake.ExtractValues(f))
	require.Equal(t, []string{"0"}, AttrAnalyzed.ExtractValues(f))
	require.Equal(t, []string{"42"}, AttrObjID.ExtractValues(f))

	// Zero-valued fields yield no group.
	require.Nil(t, AttrModified.ExtractValues(f))
	require.Nil(t, AttrModel.ExtractValues(f))
	require.Nil(t, AttrWidth.ExtractValues(f))

	// Kinds resolved from the shared store yield nothing here.
	require.Nil(t, AttrHashSet.ExtractValues(f))
	require.Nil(t, AttrTags.ExtractValues(f))
	require.Nil(t, AttrCategory.ExtractValues(f))
	require.Nil(t, AttrMimeType.ExtractValues(f))
}

func TestGroupability(t *testing.T) {
	for _, attr := range GroupableDBAttributes {
		require.True(t, attr.IsGroupable())
		require.True(t, attr.IsDBColumn())
	}
	require.True(t, AttrHashSet.IsDBColumn())
	require.False(t, AttrTags.IsDBColumn())
	require.False(t, AttrObjID.IsGroupable())
	require.False(t, AttrWidth.IsGroupable())
	require.False(t, AttrHeight.IsGroupable())
}

func TestCategoryNames(t *testing.T) {
	require.Equal(t, "CAT-0", CategoryZero.String())
	require.Equal(t, "CAT-5", CategoryFive.String())
	require.Equal(t, "INVALID", Category(42).String())
	require.Len(t, AllCategories, 6)
}

func TestBuildStatusNames(t *testing.T) {
	require.Equal(t, "UNKNOWN", BuildStatusUnknown.String())
	require.Equal(t, "IN_PROGRESS", BuildStatusInProgress.String())
	require.Equal(t, "COMPLETE", BuildStatusComplete.String())
	require.Equal(t, "REBUILT_STALE", BuildStatusRebuiltStale.String())
	require.Equal(t, "INVALID", BuildStatus(42).String())
}
