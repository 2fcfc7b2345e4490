package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/units"
)

// buildSet adds units in the given order; declaration order matters for
// determinism tests
func buildSet(t *testing.T, defs ...*units.Unit) *units.Set {
	t.Helper()
	set := units.NewSet()
	for _, def := range defs {
		require.NoError(t, set.Add(def))
	}
	return set
}

func unit(name string, mutate func(*units.Unit)) *units.Unit {
	u := &units.Unit{
		Name:    name,
		Service: units.ServiceSection{ExecStart: "/bin/true"},
	}
	if mutate != nil {
		mutate(u)
	}
	return u
}

func indexOf(t *testing.T, order []string, name string) int {
	t.Helper()
	for i, n := range order {
		if n == name {
			return i
		}
	}
	t.Fatalf("%q not in order %v", name, order)
	return -1
}

func TestStartOrder_RequiresBeforeDependent(t *testing.T) {
	set := buildSet(t,
		unit("app", func(u *units.Unit) { u.Unit.Requires = []string{"db"} }),
		unit("db", nil),
	)
	resolver := NewResolver(set)

	order, err := resolver.StartOrder("app")
	require.NoError(t, err)

	assert.Equal(t, []string{"db", "app"}, order)
}

func TestStartOrder_TransitiveClosure(t *testing.T) {
	set := buildSet(t,
		unit("web", func(u *units.Unit) { u.Unit.Requires = []string{"app"} }),
		unit("app", func(u *units.Unit) { u.Unit.Requires = []string{"db"}; u.Unit.Wants = []string{"cache"} }),
		unit("db", nil),
		unit("cache", nil),
		unit("unrelated", nil),
	)
	resolver := NewResolver(set)

	order, err := resolver.StartOrder("web")
	require.NoError(t, err)

	assert.NotContains(t, order, "unrelated")
	assert.Less(t, indexOf(t, order, "db"), indexOf(t, order, "app"))
	assert.Less(t, indexOf(t, order, "cache"), indexOf(t, order, "app"))
	assert.Less(t, indexOf(t, order, "app"), indexOf(t, order, "web"))
}

func TestStartOrder_AfterIsOrderingOnly(t *testing.T) {
	set := buildSet(t,
		unit("b", func(u *units.Unit) { u.Unit.After = []string{"a"} }),
		unit("a", nil),
	)
	resolver := NewResolver(set)

	order, err := resolver.StartOrder("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)

	// A missing after target is skipped, not an error
	set2 := buildSet(t,
		unit("solo", func(u *units.Unit) { u.Unit.After = []string{"ghost"} }),
	)
	order, err = NewResolver(set2).StartOrder("solo")
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, order)
}

func TestStartOrder_ServiceSuffixEquivalent(t *testing.T) {
	set := buildSet(t,
		unit("app", func(u *units.Unit) { u.Unit.Requires = []string{"db.service"} }),
		unit("db", nil),
	)

	order, err := NewResolver(set).StartOrder("app")
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "app"}, order)
}

func TestStartOrder_UnknownTarget(t *testing.T) {
	set := buildSet(t, unit("a", nil))

	_, err := NewResolver(set).StartOrder("ghost")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStartOrder_MissingRequires(t *testing.T) {
	set := buildSet(t,
		unit("app", func(u *units.Unit) { u.Unit.Requires = []string{"ghost"} }),
	)

	_, err := NewResolver(set).StartOrder("app")
	require.Error(t, err)
	assert.True(t, errors.IsDependencyError(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestStartOrder_MissingWantsSkipped(t *testing.T) {
	set := buildSet(t,
		unit("app", func(u *units.Unit) { u.Unit.Wants = []string{"ghost"} }),
	)

	order, err := NewResolver(set).StartOrder("app")
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, order)
}

func TestStartOrder_CycleNamesMembers(t *testing.T) {
	set := buildSet(t,
		unit("a", func(u *units.Unit) { u.Unit.Requires = []string{"b"} }),
		unit("b", func(u *units.Unit) { u.Unit.Requires = []string{"c"} }),
		unit("c", func(u *units.Unit) { u.Unit.Requires = []string{"a"} }),
		unit("outside", nil),
	)

	_, err := NewResolver(set).StartOrder("a")
	require.Error(t, err)
	assert.True(t, errors.IsCycleError(err))
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
	assert.Contains(t, err.Error(), "c")
	assert.NotContains(t, err.Error(), "outside")
}

func TestStartOrder_SelfCycle(t *testing.T) {
	set := buildSet(t,
		unit("narcissus", func(u *units.Unit) { u.Unit.Requires = []string{"narcissus"} }),
	)

	_, err := NewResolver(set).StartOrder("narcissus")
	assert.True(t, errors.IsCycleError(err))
}

func TestStartOrder_MixedEdgeCycle(t *testing.T) {
	// after edges participate in cycle detection too
	set := buildSet(t,
		unit("a", func(u *units.Unit) { u.Unit.After = []string{"b"} }),
		unit("b", func(u *units.Unit) { u.Unit.Requires = []string{"a"} }),
	)

	_, err := NewResolver(set).StartOrder("a")
	assert.True(t, errors.IsCycleError(err))
}

func TestStartOrder_Deterministic(t *testing.T) {
	set := buildSet(t,
		unit("app", func(u *units.Unit) { u.Unit.Requires = []string{"left", "right"} }),
		unit("left", nil),
		unit("right", nil),
	)
	resolver := NewResolver(set)

	first, err := resolver.StartOrder("app")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := resolver.StartOrder("app")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// Ties break in declaration order of the edges
	assert.Equal(t, []string{"left", "right", "app"}, first)
}

func TestStartOrderAll_CoversEveryUnit(t *testing.T) {
	set := buildSet(t,
		unit("b", nil),
		unit("a", func(u *units.Unit) { u.Unit.Requires = []string{"b"} }),
		unit("c", nil),
	)

	order, err := NewResolver(set).StartOrderAll()
	require.NoError(t, err)
	assert.Len(t, order, 3)
	assert.Less(t, indexOf(t, order, "b"), indexOf(t, order, "a"))
}

func TestStopOrder_DependentsFirst(t *testing.T) {
	set := buildSet(t,
		unit("db", nil),
		unit("app", func(u *units.Unit) { u.Unit.Requires = []string{"db"} }),
		unit("web", func(u *units.Unit) { u.Unit.Requires = []string{"app"} }),
		unit("watcher", func(u *units.Unit) { u.Unit.Wants = []string{"db"} }),
	)

	order, err := NewResolver(set).StopOrder("db")
	require.NoError(t, err)

	// Soft dependents survive; the hard closure stops dependents-first
	assert.NotContains(t, order, "watcher")
	assert.Equal(t, []string{"web", "app", "db"}, order)
}

func TestStopOrder_LeafService(t *testing.T) {
	set := buildSet(t,
		unit("db", nil),
		unit("app", func(u *units.Unit) { u.Unit.Requires = []string{"db"} }),
	)

	order, err := NewResolver(set).StopOrder("app")
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, order)
}

func TestStopOrder_UnknownTarget(t *testing.T) {
	set := buildSet(t, unit("a", nil))

	_, err := NewResolver(set).StopOrder("ghost")
	assert.True(t, errors.IsNotFoundError(err))
}
