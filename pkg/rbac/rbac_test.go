package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasExactAndWildcard(t *testing.T) {
	set := NewSet("fees.collect", "academics.students.view")

	assert.True(t, set.Has("fees.collect"))
	assert.False(t, set.Has("fees.refund"))
	assert.False(t, set.Has("fees"))

	all := NewSet("*")
	assert.True(t, all.Has("anything.at.all"))
	assert.True(t, all.IsWildcard())
}

func TestHasSegmentWildcard(t *testing.T) {
	set := NewSet("fees.*")

	assert.True(t, set.Has("fees.collect"))
	assert.True(t, set.Has("fees.reports.export"))
	assert.False(t, set.Has("academics.students.view"))
	// The wildcard covers children, not the bare prefix itself.
	assert.False(t, set.Has("fees"))

	nested := NewSet("academics.students.*")
	assert.True(t, nested.Has("academics.students.view"))
	assert.False(t, nested.Has("academics.exams.manage"))
}

func TestHasAnyHasAll(t *testing.T) {
	set := NewSet("fees.collect", "fees.refund")

	assert.True(t, set.HasAny([]string{"fees.refund", "students.delete"}))
	assert.False(t, set.HasAny([]string{"students.delete"}))
	assert.True(t, set.HasAll([]string{"fees.refund", "fees.collect"}))
	assert.False(t, set.HasAll([]string{"fees.refund", "students.delete"}))
}

func TestCheckModes(t *testing.T) {
	set := NewSet("fees.collect")

	assert.True(t, Check(set, AnyOf, []string{"fees.collect", "fees.refund"}))
	assert.False(t, Check(set, AllOf, []string{"fees.collect", "fees.refund"}))
	assert.True(t, Check(set, AnyOf, nil))
	assert.True(t, Check(set, AllOf, nil))
}

func TestCheckNeverEscalatesByIdentity(t *testing.T) {
	// A set resolved for an admin user carries only what was granted; the
	// check has no identity input to special-case.
	adminResolved := NewSet("academics.students.view")
	assert.False(t, Check(adminResolved, AnyOf, []string{"fees.collect"}))
}

func TestUnion(t *testing.T) {
	merged := Union(NewSet("a.read"), NewSet("b.write"))
	assert.True(t, merged.Has("a.read"))
	assert.True(t, merged.Has("b.write"))
	assert.False(t, merged.Has("c.exec"))
}

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"*":                       true,
		"fees.collect":            true,
		"fees.*":                  true,
		"academics.students.view": true,
		"rbac_epoch.bump":         true,
		"":                        false,
		"fees.":                   false,
		".fees":                   false,
		"fees.*.collect":          false,
		"Fees.Collect":            false,
		"fees collect":            false,
	}
	for key, want := range cases {
		assert.Equal(t, want, Valid(key), "key %q", key)
	}
}
