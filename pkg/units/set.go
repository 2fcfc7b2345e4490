package units

import (
	"fmt"

	"github.com/praxis-tools/servitor/pkg/errors"
)

// Set is an ordered collection of unit definitions. Iteration order is the
// order in which units were added (the declaration order of the loaded
// set), which keeps dependency resolution deterministic.
type Set struct {
	units map[string]*Unit
	order []string
}

func NewSet() *Set {
	return &Set{
		units: make(map[string]*Unit),
	}
}

// Add inserts a unit, rejecting duplicate names
func (s *Set) Add(unit *Unit) error {
	if unit == nil {
		return errors.NewValidationError("unit cannot be nil", nil)
	}
	if _, exists := s.units[unit.Name]; exists {
		return errors.NewConflictError("duplicate unit name", nil).WithContext("name", unit.Name)
	}
	s.units[unit.Name] = unit
	s.order = append(s.order, unit.Name)
	return nil
}

func (s *Set) Get(name string) (*Unit, bool) {
	unit, ok := s.units[name]
	return unit, ok
}

func (s *Set) Contains(name string) bool {
	_, ok := s.units[name]
	return ok
}

// Names returns unit names in declaration order
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set) Len() int {
	return len(s.units)
}

// ValidateReferences checks that every requires target names a unit in the
// set. One error per affected unit, so the caller can refuse exactly the
// affected services rather than the whole set. Missing wants/after targets
// are not errors (wants failures are tolerated, after is ordering-only).
func (s *Set) ValidateReferences() []error {
	var errs []error
	for _, name := range s.order {
		unit := s.units[name]
		for _, dep := range unit.RequiresNames() {
			if !s.Contains(dep) {
				errs = append(errs, errors.NewDependencyError(
					fmt.Sprintf("unit %q requires unknown unit %q", name, dep),
					nil).WithContext("unit", name).WithContext("missing", dep))
			}
		}
	}
	return errs
}
