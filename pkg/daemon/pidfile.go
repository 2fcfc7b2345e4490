package daemon

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/process"
)

// WritePIDFile records the daemon's own PID atomically, so a concurrent
// reader never observes a partially written file.
func WritePIDFile(path string) error {
	content := strconv.Itoa(os.Getpid()) + "\n"
	if err := renameio.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.NewIOError("failed to write pid file", err).WithContext("path", path)
	}
	return nil
}

// RemovePIDFile deletes the PID file; a missing file is not an error
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove pid file", err).WithContext("path", path)
	}
	return nil
}

// ReadPIDFile returns the recorded PID, or an error if the file is
// missing or malformed
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.NewIOError("failed to read pid file", err).WithContext("path", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("malformed pid file", err).WithContext("path", path)
	}
	return pid, nil
}

// IsDaemonRunning reports whether the PID recorded in the daemon's PID
// file names a live process
func IsDaemonRunning(config Config) bool {
	pid, err := ReadPIDFile(config.PIDFile)
	if err != nil {
		return false
	}
	running, err := process.IsProcessRunning(pid)
	return err == nil && running
}
