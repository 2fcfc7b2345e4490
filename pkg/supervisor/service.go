package supervisor

import (
	"os"
	"time"

	"github.com/praxis-tools/servitor/pkg/units"
)

// ServiceStatus is a consistent snapshot of one service instance, taken
// under the registry lock so readers never observe a torn combination of
// state, pid, and counters.
type ServiceStatus struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	State        ServiceState `json:"state"`
	PID          int          `json:"pid,omitempty"`
	StartedAt    time.Time    `json:"started_at,omitempty"`
	RestartCount uint64       `json:"restart_count"`
	LastExitCode *int         `json:"last_exit_code,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
}

// serviceEntry is the mutable runtime record for one unit. Entries are
// created when the unit is loaded into the registry and live until the
// daemon exits; a stop transitions the entry to inactive, it never removes
// it. All fields are owned by the Supervisor and guarded by its mutex.
type serviceEntry struct {
	unit *units.Unit

	state        ServiceState
	process      *os.Process
	pid          int
	startedAt    time.Time
	restartCount uint64
	lastExitCode *int
	lastError    string

	// generation increments on every spawn; exit watchers carry the
	// generation they were started for, so a stale watcher from a
	// previous incarnation cannot clobber newer state
	generation uint64

	// exited is created per spawn and closed by the exit handler, so a
	// stopper can wait for process exit without holding the lock
	exited chan struct{}

	// restartTimer is the pending restart delay, nil when none. An
	// explicit stop cancels it.
	restartTimer *time.Timer
}

func newServiceEntry(unit *units.Unit) *serviceEntry {
	return &serviceEntry{
		unit:  unit,
		state: StateInactive,
	}
}

// snapshot copies the publicly visible fields. Caller must hold the
// registry lock.
func (e *serviceEntry) snapshot() ServiceStatus {
	status := ServiceStatus{
		Name:         e.unit.Name,
		Description:  e.unit.Unit.Description,
		State:        e.state,
		PID:          e.pid,
		StartedAt:    e.startedAt,
		RestartCount: e.restartCount,
		LastError:    e.lastError,
	}
	if e.lastExitCode != nil {
		code := *e.lastExitCode
		status.LastExitCode = &code
	}
	return status
}

// cancelRestartTimer stops a pending restart, if any. Caller must hold
// the registry lock.
func (e *serviceEntry) cancelRestartTimer() {
	if e.restartTimer != nil {
		e.restartTimer.Stop()
		e.restartTimer = nil
	}
}
