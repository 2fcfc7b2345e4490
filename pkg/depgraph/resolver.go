// Package depgraph builds a directed dependency graph over unit names and
// produces deterministic start and stop orders. The graph is keyed by
// stable names, not object references, so traversal is reproducible for
// the same loaded set.
package depgraph

import (
	"fmt"
	"strings"

	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/units"
)

// Resolver answers ordering queries against one immutable unit set
type Resolver struct {
	set *units.Set
}

func NewResolver(set *units.Set) *Resolver {
	return &Resolver{set: set}
}

// StartOrder returns the topologically sorted start sequence for target:
// the target plus its transitive requires/wants/after closure, every
// predecessor strictly before its dependent. A missing requires target
// fails with a dependency error before anything is returned; missing
// wants/after targets are skipped (wants failures are tolerated, after is
// ordering-only). A cycle fails with a cycle error naming the members and
// never returns a partial order.
func (r *Resolver) StartOrder(target string) ([]string, error) {
	if !r.set.Contains(target) {
		return nil, errors.NewNotFoundError("unknown unit", nil).WithContext("name", target)
	}
	v := newVisitor(r.set)
	if err := v.visit(target); err != nil {
		return nil, err
	}
	return v.order, nil
}

// StartOrderAll returns a start sequence covering every loaded unit,
// iterating roots in declaration order so independent branches come out
// in a stable order.
func (r *Resolver) StartOrderAll() ([]string, error) {
	v := newVisitor(r.set)
	for _, name := range r.set.Names() {
		if err := v.visit(name); err != nil {
			return nil, err
		}
	}
	return v.order, nil
}

// StopOrder returns the stop sequence for target: target plus everything
// that transitively requires it, dependents strictly before their
// dependencies, so the target itself comes last.
func (r *Resolver) StopOrder(target string) ([]string, error) {
	if !r.set.Contains(target) {
		return nil, errors.NewNotFoundError("unknown unit", nil).WithContext("name", target)
	}

	// Reverse edges over hard requires only: soft and ordering-only
	// dependents survive the stop of their dependency.
	dependents := make(map[string][]string)
	for _, name := range r.set.Names() {
		unit, _ := r.set.Get(name)
		for _, dep := range unit.RequiresNames() {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	closure := make(map[string]bool)
	var collect func(name string)
	collect = func(name string) {
		if closure[name] {
			return
		}
		closure[name] = true
		for _, dep := range dependents[name] {
			collect(dep)
		}
	}
	collect(target)

	// Topological order of the closure subgraph (dependencies first),
	// then reversed so dependents stop before their dependencies.
	v := newVisitor(r.set)
	v.restrict = closure
	for _, name := range r.set.Names() {
		if !closure[name] {
			continue
		}
		if err := v.visit(name); err != nil {
			return nil, err
		}
	}

	order := v.order
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

type visitState int

const (
	stateUnvisited visitState = iota
	stateOnPath
	stateDone
)

// visitor performs the depth-first traversal tracking the open path for
// cycle detection
type visitor struct {
	set      *units.Set
	restrict map[string]bool // when non-nil, only visit these names
	state    map[string]visitState
	path     []string
	order    []string
}

func newVisitor(set *units.Set) *visitor {
	return &visitor{
		set:   set,
		state: make(map[string]visitState),
	}
}

func (v *visitor) visit(name string) error {
	switch v.state[name] {
	case stateDone:
		return nil
	case stateOnPath:
		return v.cycleError(name)
	}

	v.state[name] = stateOnPath
	v.path = append(v.path, name)

	unit, _ := v.set.Get(name)
	if unit != nil {
		for _, dep := range unit.RequiresNames() {
			if !v.set.Contains(dep) {
				return errors.NewDependencyError(
					fmt.Sprintf("unit %q requires unknown unit %q", name, dep),
					nil).WithContext("unit", name).WithContext("missing", dep)
			}
			if err := v.visitEdge(dep); err != nil {
				return err
			}
		}
		for _, dep := range unit.AfterNames() {
			if err := v.visitEdge(dep); err != nil {
				return err
			}
		}
		for _, dep := range unit.WantsNames() {
			if err := v.visitEdge(dep); err != nil {
				return err
			}
		}
	}

	v.path = v.path[:len(v.path)-1]
	v.state[name] = stateDone
	v.order = append(v.order, name)
	return nil
}

func (v *visitor) visitEdge(dep string) error {
	if !v.set.Contains(dep) {
		return nil
	}
	if v.restrict != nil && !v.restrict[dep] {
		return nil
	}
	return v.visit(dep)
}

// cycleError builds a cycle error naming the members in path order,
// starting at the first occurrence of the repeated node
func (v *visitor) cycleError(name string) error {
	start := 0
	for i, n := range v.path {
		if n == name {
			start = i
			break
		}
	}
	members := append(append([]string{}, v.path[start:]...), name)
	return errors.NewCycleError(
		fmt.Sprintf("dependency cycle detected: %s", strings.Join(members, " -> ")),
		nil).WithContext("cycle", members)
}
