package process

import (
	gopsutil "github.com/shirou/gopsutil/v3/process"

	"github.com/praxis-tools/servitor/pkg/errors"
)

// IsProcessRunning reports whether a process with the given PID exists
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	exists, err := gopsutil.PidExists(int32(pid))
	if err != nil {
		return false, errors.NewProcessError("failed to check process", err).WithContext("pid", pid)
	}
	return exists, nil
}
