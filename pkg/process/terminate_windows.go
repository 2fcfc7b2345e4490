//go:build windows

package process

import (
	"fmt"
)

// SendTerminationSignal has no graceful equivalent for arbitrary console
// processes on Windows; callers fall back to a forced kill after the
// graceful timeout.
func SendTerminationSignal(pid int) error {
	return fmt.Errorf("graceful termination signal not supported on windows, pid: %d", pid)
}
