// Package supervisor owns the daemon-wide service registry: the per-service
// lifecycle state machine, the process watchers that drive it on exit, and
// the restart timers. All registry mutations (client commands, exit
// events, restart-timer firings) funnel through one mutex, so concurrent
// requests against the same service resolve in lock-acquisition order and
// the loser always observes the already-updated state.
package supervisor

import (
	"sync"
	"time"

	"github.com/praxis-tools/servitor/pkg/depgraph"
	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/logging"
	"github.com/praxis-tools/servitor/pkg/units"
)

type Options struct {
	// GracefulTimeout is how long to wait after the termination signal
	// before force-killing. Default 10s.
	GracefulTimeout time.Duration

	// ExecStopTimeout bounds a configured exec_stop command. Default 10s.
	ExecStopTimeout time.Duration

	// ForceKillTimeout is how long to wait for exit after a forced kill.
	// Default 5s.
	ForceKillTimeout time.Duration
}

// Supervisor is the single process-wide registry of service instances plus
// the machinery that starts, stops, and restarts their OS processes.
type Supervisor struct {
	options  Options
	set      *units.Set
	resolver *depgraph.Resolver
	services map[string]*serviceEntry
	logger   logging.Logger
	mutex    sync.Mutex
}

func NewSupervisor(set *units.Set, options Options, logger logging.Logger) *Supervisor {
	if options.GracefulTimeout <= 0 {
		options.GracefulTimeout = 10 * time.Second
	}
	if options.ExecStopTimeout <= 0 {
		options.ExecStopTimeout = 10 * time.Second
	}
	if options.ForceKillTimeout <= 0 {
		options.ForceKillTimeout = 5 * time.Second
	}

	services := make(map[string]*serviceEntry, set.Len())
	for _, name := range set.Names() {
		unit, _ := set.Get(name)
		services[name] = newServiceEntry(unit)
	}

	return &Supervisor{
		options:  options,
		set:      set,
		resolver: depgraph.NewResolver(set),
		services: services,
		logger:   logger,
	}
}

// AddUnit loads an additional unit definition into the registry at
// runtime (unit-directory reload). Duplicate names are rejected; the
// existing instance is never replaced.
func (s *Supervisor) AddUnit(unit *units.Unit) error {
	if unit == nil {
		return errors.NewValidationError("unit cannot be nil", nil)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.set.Add(unit); err != nil {
		return err
	}
	s.services[unit.Name] = newServiceEntry(unit)

	s.logger.Infof("Unit loaded into registry, name: %s", unit.Name)
	return nil
}

// Status returns a consistent snapshot of one service instance
func (s *Supervisor) Status(name string) (ServiceStatus, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.services[name]
	if !exists {
		return ServiceStatus{}, errors.NewNotFoundError("unknown service", nil).WithContext("name", name)
	}
	return entry.snapshot(), nil
}

// List returns snapshots of all service instances in declaration order
func (s *Supervisor) List() []ServiceStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	statuses := make([]ServiceStatus, 0, len(s.services))
	for _, name := range s.set.Names() {
		statuses = append(statuses, s.services[name].snapshot())
	}
	return statuses
}

// hardClosureLocked returns target plus its transitive requires closure.
// Caller must hold the registry lock.
func (s *Supervisor) hardClosureLocked(target string) map[string]bool {
	closure := make(map[string]bool)
	var walk func(name string)
	walk = func(name string) {
		if closure[name] {
			return
		}
		closure[name] = true
		unit, ok := s.set.Get(name)
		if !ok {
			return
		}
		for _, dep := range unit.RequiresNames() {
			walk(dep)
		}
	}
	walk(target)
	return closure
}
