package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/process"
	"github.com/praxis-tools/servitor/pkg/units"
)

// StartService starts the named service after starting its dependency
// closure in resolver order. The returned bool reports whether the target
// was actually spawned; false with a nil error means it was already
// active. A failed requires predecessor aborts the plan without attempting
// later entries; a failed wants predecessor is logged and skipped.
func (s *Supervisor) StartService(ctx context.Context, name string) (bool, error) {
	if ctx == nil {
		return false, errors.NewValidationError("context cannot be nil", nil)
	}

	s.mutex.Lock()
	plan, err := s.resolver.StartOrder(name)
	var hard map[string]bool
	if err == nil {
		hard = s.hardClosureLocked(name)
	}
	s.mutex.Unlock()
	if err != nil {
		return false, err
	}

	s.logger.Debugf("Start plan resolved, target: %s, plan: %v", name, plan)

	targetStarted := false
	for _, entry := range plan {
		started, err := s.startOne(ctx, entry)
		if err != nil {
			if entry == name {
				return false, err
			}
			if hard[entry] {
				return false, errors.NewDependencyError(
					fmt.Sprintf("required dependency %q failed to start", entry),
					err).WithContext("target", name).WithContext("failed", entry)
			}
			s.logger.Warnf("Wanted dependency failed to start, continuing, unit: %s, error: %v", entry, err)
			continue
		}
		if entry == name {
			targetStarted = started
		}
	}

	return targetStarted, nil
}

// StartAll starts every loaded unit in dependency order. A failed unit
// blocks only the units that transitively require it; everything else is
// still attempted.
func (s *Supervisor) StartAll(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	s.mutex.Lock()
	plan, err := s.resolver.StartOrderAll()
	s.mutex.Unlock()
	if err != nil {
		return err
	}

	failed := make(map[string]bool)
	for _, entry := range plan {
		if blockedBy := s.failedRequirement(entry, failed); blockedBy != "" {
			s.logger.Warnf("Skipping unit, required dependency failed, unit: %s, failed: %s", entry, blockedBy)
			failed[entry] = true
			continue
		}
		if _, err := s.startOne(ctx, entry); err != nil {
			s.logger.Errorf("Failed to start unit, name: %s, error: %v", entry, err)
			failed[entry] = true
		}
	}

	if len(failed) > 0 {
		return errors.NewProcessError(fmt.Sprintf("%d of %d units failed to start", len(failed), len(plan)), nil)
	}
	return nil
}

// failedRequirement returns the name of a failed transitive requires
// target of name, or "" when none failed
func (s *Supervisor) failedRequirement(name string, failed map[string]bool) string {
	s.mutex.Lock()
	closure := s.hardClosureLocked(name)
	s.mutex.Unlock()

	for dep := range closure {
		if dep != name && failed[dep] {
			return dep
		}
	}
	return ""
}

// startOne starts a single service. Returns (false, nil) when the service
// is already active or activating, so concurrent starts of the same name
// produce one spawned process and two benign responses.
func (s *Supervisor) startOne(ctx context.Context, name string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.services[name]
	if !exists {
		return false, errors.NewNotFoundError("unknown service", nil).WithContext("name", name)
	}

	if isAlreadyActive(entry.state) {
		s.logger.Debugf("Service already active, name: %s, state: %s", name, entry.state)
		return false, nil
	}
	if !canStartFromState(entry.state) {
		return false, errors.NewConflictError(
			fmt.Sprintf("cannot start service in state %q", entry.state),
			nil).WithContext("name", name).WithContext("state", string(entry.state))
	}

	// An explicit start during a pending restart supersedes the timer
	entry.cancelRestartTimer()

	if err := s.activateLocked(ctx, entry); err != nil {
		return false, err
	}
	return true, nil
}

// activateLocked spawns the unit's exec_start and transitions the entry to
// active, or to failed recording the spawn error. Caller must hold the
// registry lock; the lock is held across the spawn so the exit watcher
// cannot observe a half-updated entry.
func (s *Supervisor) activateLocked(ctx context.Context, entry *serviceEntry) error {
	name := entry.unit.Name
	entry.state = StateActivating
	s.logger.Infof("Starting service, name: %s", name)

	proc, err := process.Spawn(ctx, process.SpawnConfig{
		Command:          entry.unit.Service.ExecStart,
		WorkingDirectory: entry.unit.Service.WorkingDirectory,
		Environment:      entry.unit.Service.Environment,
	}, name, s.logger)
	if err != nil {
		entry.state = StateFailed
		entry.lastError = err.Error()
		entry.process = nil
		entry.pid = 0
		s.logger.Errorf("Failed to start service, name: %s, error: %v", name, err)
		return err
	}

	entry.process = proc
	entry.pid = proc.Pid
	entry.startedAt = time.Now()
	entry.lastError = ""
	entry.generation++
	entry.exited = make(chan struct{})

	// Simple semantics: the spawned process is the tracked process and
	// spawn success means active. Forking and oneshot degrade to this.
	entry.state = StateActive

	go s.watchExit(name, entry.generation, proc)

	s.logger.Infof("Service started, name: %s, PID: %d", name, proc.Pid)
	return nil
}

// watchExit waits for the tracked process to exit and delivers the exit
// into the registry's serialized mutation path. It never mutates the
// entry directly.
func (s *Supervisor) watchExit(name string, generation uint64, proc *os.Process) {
	state, err := proc.Wait()

	exitCode := -1
	if err != nil {
		s.logger.Warnf("Process wait failed, name: %s, PID: %d, error: %v", name, proc.Pid, err)
	} else {
		exitCode = state.ExitCode() // -1 when signal-terminated
		s.logger.Infof("Process exited, name: %s, PID: %d, code: %d", name, proc.Pid, exitCode)
	}

	s.handleExit(name, generation, exitCode)
}

// handleExit applies an exit event to the registry. Ordering against
// concurrent commands is decided by the mutex; a stale watcher from a
// previous spawn generation is ignored.
func (s *Supervisor) handleExit(name string, generation uint64, exitCode int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.services[name]
	if !exists || entry.generation != generation {
		s.logger.Debugf("Ignoring stale exit event, name: %s, generation: %d", name, generation)
		return
	}

	code := exitCode
	entry.lastExitCode = &code
	entry.process = nil
	entry.pid = 0
	if entry.exited != nil {
		close(entry.exited)
		entry.exited = nil
	}

	switch entry.state {
	case StateDeactivating:
		// A stop is in progress and waiting on the exited channel
		entry.state = StateInactive
		s.logger.Infof("Service stopped, name: %s", name)
	case StateActive:
		s.applyRestartPolicyLocked(entry, exitCode)
	default:
		s.logger.Warnf("Exit event in unexpected state, name: %s, state: %s", name, entry.state)
		entry.state = StateInactive
	}
}

// applyRestartPolicyLocked decides what an unrequested exit means under
// the unit's restart policy. Caller must hold the registry lock.
func (s *Supervisor) applyRestartPolicyLocked(entry *serviceEntry, exitCode int) {
	name := entry.unit.Name
	policy := entry.unit.Service.Restart

	restart := false
	switch policy {
	case units.RestartAlways:
		restart = true
	case units.RestartOnFailure:
		restart = exitCode != 0
	}

	if restart {
		entry.restartCount++
		entry.state = StateRestarting
		delay := entry.unit.RestartDelay()
		generation := entry.generation
		entry.restartTimer = time.AfterFunc(delay, func() {
			s.restartTimerFired(name, generation)
		})
		s.logger.Infof("Scheduling restart, name: %s, delay: %v, restart_count: %d", name, delay, entry.restartCount)
		return
	}

	if exitCode != 0 {
		entry.state = StateFailed
		entry.lastError = fmt.Sprintf("process exited with code %d", exitCode)
		s.logger.Warnf("Service failed, name: %s, code: %d", name, exitCode)
	} else {
		entry.state = StateInactive
		s.logger.Infof("Service exited cleanly, name: %s", name)
	}
}

// restartTimerFired runs when a pending restart delay elapses. A stop or
// explicit start issued in the meantime has already moved the entry out of
// restarting (and cancelled the timer), so a late firing is a no-op.
func (s *Supervisor) restartTimerFired(name string, generation uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.services[name]
	if !exists || entry.state != StateRestarting || entry.generation != generation {
		s.logger.Debugf("Ignoring stale restart timer, name: %s", name)
		return
	}
	entry.restartTimer = nil

	s.logger.Infof("Restarting service, name: %s, restart_count: %d", name, entry.restartCount)
	if err := s.activateLocked(context.Background(), entry); err != nil {
		s.logger.Errorf("Restart failed, name: %s, error: %v", name, err)
	}
}

// StopService stops the named service, after stopping everything that
// transitively requires it (dependents first). Dependents that are not
// running are skipped; a stop of a service that is itself not running is
// an error, so the client gets a structured response rather than a silent
// no-op.
func (s *Supervisor) StopService(ctx context.Context, name string) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	s.mutex.Lock()
	plan, err := s.resolver.StopOrder(name)
	s.mutex.Unlock()
	if err != nil {
		return err
	}

	s.logger.Debugf("Stop plan resolved, target: %s, plan: %v", name, plan)

	for _, entry := range plan {
		if entry == name {
			return s.stopOne(ctx, entry, true)
		}
		if err := s.stopOne(ctx, entry, false); err != nil {
			s.logger.Warnf("Failed to stop dependent, unit: %s, error: %v", entry, err)
		}
	}
	return nil
}

// RestartService stops the named service if it is running, then starts it
// again (with its dependency closure). Manual restarts do not touch
// restart_count, which tracks supervisor-initiated restarts only.
func (s *Supervisor) RestartService(ctx context.Context, name string) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	s.mutex.Lock()
	_, exists := s.services[name]
	s.mutex.Unlock()
	if !exists {
		return errors.NewNotFoundError("unknown service", nil).WithContext("name", name)
	}

	if err := s.stopOne(ctx, name, false); err != nil {
		return err
	}
	_, err := s.StartService(ctx, name)
	return err
}

// StopAll stops every running service in reverse dependency order
// (dependents before their dependencies). Used by daemon shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mutex.Lock()
	order, err := s.resolver.StartOrderAll()
	s.mutex.Unlock()
	if err != nil {
		// A cycle or unresolved reference cannot block shutdown
		s.logger.Warnf("Falling back to declaration order for shutdown, error: %v", err)
		order = s.set.Names()
	}

	for i := len(order) - 1; i >= 0; i-- {
		if err := s.stopOne(ctx, order[i], false); err != nil {
			s.logger.Warnf("Failed to stop service during shutdown, name: %s, error: %v", order[i], err)
		}
	}
}

// stopOne stops a single service. When strict is false a service that is
// not running is a no-op instead of an error. Termination happens outside
// the registry lock: the lock is taken to validate and transition state,
// released while signalling and waiting, and the exit watcher finalizes
// the entry through the usual serialized path.
func (s *Supervisor) stopOne(ctx context.Context, name string, strict bool) error {
	s.mutex.Lock()

	entry, exists := s.services[name]
	if !exists {
		s.mutex.Unlock()
		return errors.NewNotFoundError("unknown service", nil).WithContext("name", name)
	}

	if entry.state == StateRestarting {
		// Cancel the pending restart and come to rest; there is no
		// process to signal
		entry.cancelRestartTimer()
		entry.state = StateInactive
		s.mutex.Unlock()
		s.logger.Infof("Pending restart cancelled, name: %s", name)
		return nil
	}

	if !canStopFromState(entry.state) {
		state := entry.state
		s.mutex.Unlock()
		if !strict {
			return nil
		}
		return errors.NewConflictError(
			fmt.Sprintf("cannot stop service in state %q", state),
			nil).WithContext("name", name).WithContext("state", string(state))
	}

	entry.state = StateDeactivating
	proc := entry.process
	exited := entry.exited
	unit := entry.unit
	s.mutex.Unlock()

	s.logger.Infof("Stopping service, name: %s", name)

	if unit.Service.ExecStop != "" {
		s.runExecStop(ctx, unit)
	}

	if proc == nil {
		// No process to signal (activation never completed); come to rest
		s.mutex.Lock()
		if entry.state == StateDeactivating {
			entry.state = StateInactive
		}
		s.mutex.Unlock()
		return nil
	}

	if err := process.SendTerminationSignal(proc.Pid); err != nil {
		s.logger.Debugf("Termination signal failed, name: %s, PID: %d, error: %v", name, proc.Pid, err)
	}

	select {
	case <-exited:
		return nil
	case <-time.After(s.options.GracefulTimeout):
		s.logger.Warnf("Service did not stop within %v, force killing, name: %s, PID: %d",
			s.options.GracefulTimeout, name, proc.Pid)
	case <-ctx.Done():
		s.logger.Warnf("Stop cancelled, force killing, name: %s, PID: %d", name, proc.Pid)
	}

	if err := proc.Kill(); err != nil {
		s.logger.Warnf("Force kill failed, name: %s, PID: %d, error: %v", name, proc.Pid, err)
	}

	select {
	case <-exited:
		return nil
	case <-time.After(s.options.ForceKillTimeout):
		return errors.NewTimeoutError("process did not terminate after forced kill", nil).
			WithContext("name", name).WithContext("pid", proc.Pid)
	}
}

// runExecStop spawns the unit's exec_stop command and waits for it,
// bounded by ExecStopTimeout. Failures are logged, never fatal: the main
// process still gets the termination signal afterwards.
func (s *Supervisor) runExecStop(ctx context.Context, unit *units.Unit) {
	proc, err := process.Spawn(ctx, process.SpawnConfig{
		Command:          unit.Service.ExecStop,
		WorkingDirectory: unit.Service.WorkingDirectory,
		Environment:      unit.Service.Environment,
	}, unit.Name+"/stop", s.logger)
	if err != nil {
		s.logger.Warnf("Failed to run exec_stop, name: %s, error: %v", unit.Name, err)
		return
	}

	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.options.ExecStopTimeout):
		s.logger.Warnf("exec_stop did not finish within %v, killing it, name: %s", s.options.ExecStopTimeout, unit.Name)
		_ = proc.Kill()
	case <-ctx.Done():
		_ = proc.Kill()
	}
}
