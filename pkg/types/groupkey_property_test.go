package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_GroupKeyIdentity checks the identity rules every node relies
// on: key ids are a pure function of the key, only path keys keep their data
// source, and the canonical encoding round-trips into a distinct id per
// distinct key.
func TestProperty_GroupKeyIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	attrGen := gen.IntRange(int(AttrPath), int(AttrHeight))

	properties.Property("id is deterministic across instances", prop.ForAll(
		func(attr int, value string, ds int64) bool {
			a := NewGroupKey(Attribute(attr), value, DataSourceID(ds))
			b := NewGroupKey(Attribute(attr), value, DataSourceID(ds))
			return a == b && a.ID() == b.ID()
		},
		attrGen,
		gen.AnyString(),
		gen.Int64Range(0, 1<<40),
	))

	properties.Property("only path keys keep their data source", prop.ForAll(
		func(attr int, value string, ds int64) bool {
			k := NewGroupKey(Attribute(attr), value, DataSourceID(ds))
			if Attribute(attr) == AttrPath {
				return k.DataSourceID == DataSourceID(ds)
			}
			return k.DataSourceID == 0
		},
		attrGen,
		gen.AnyString(),
		gen.Int64Range(1, 1<<40),
	))

	properties.Property("distinct values yield distinct ids", prop.ForAll(
		func(attr int, v1, v2 string) bool {
			if v1 == v2 {
				return true
			}
			a := NewGroupKey(Attribute(attr), v1, 0)
			b := NewGroupKey(Attribute(attr), v2, 0)
			return a.ID() != b.ID()
		},
		attrGen,
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
