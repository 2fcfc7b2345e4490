package supervisor

// ServiceState represents the lifecycle state of one supervised service
type ServiceState string

const (
	// StateInactive is the initial state and the rest state after a
	// clean stop or a clean exit
	StateInactive ServiceState = "inactive"

	// StateActivating means a start was accepted and the process is
	// being spawned
	StateActivating ServiceState = "activating"

	// StateActive means the tracked process is running
	StateActive ServiceState = "active"

	// StateDeactivating means a stop is in progress
	StateDeactivating ServiceState = "deactivating"

	// StateRestarting means the process exited and a restart is pending
	// the configured delay
	StateRestarting ServiceState = "restarting"

	// StateFailed means the last spawn failed or the process exited
	// nonzero with no restart policy
	StateFailed ServiceState = "failed"
)

// canStartFromState validates if a start is allowed from the current state
func canStartFromState(state ServiceState) bool {
	switch state {
	case StateInactive, StateFailed:
		return true
	case StateRestarting:
		return true // cancels the pending restart timer and activates now
	case StateActivating, StateActive, StateDeactivating:
		return false
	default:
		return false
	}
}

// canStopFromState validates if a stop is allowed from the current state
func canStopFromState(state ServiceState) bool {
	switch state {
	case StateActive, StateActivating:
		return true
	case StateRestarting:
		return true // cancels the pending restart timer, no process to kill
	case StateInactive, StateDeactivating, StateFailed:
		return false
	default:
		return false
	}
}

// isAlreadyActive reports states a concurrent start treats as benign
func isAlreadyActive(state ServiceState) bool {
	return state == StateActive || state == StateActivating
}
