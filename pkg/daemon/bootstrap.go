package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/praxis-tools/servitor/pkg/control"
	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/logging"
)

// DaemonBinaryName is the daemon executable the bootstrap launches
const DaemonBinaryName = "servitord"

// bootstrapTimeout bounds how long the bootstrap polls for the control
// endpoint to become connectable
const bootstrapTimeout = 5 * time.Second

// EnsureRunning makes sure a daemon is serving the control endpoint,
// launching one detached if needed and polling the endpoint until it
// answers. The endpoint becoming connectable is the daemon's readiness
// signal.
func EnsureRunning(config Config, logger logging.Logger) error {
	client := control.NewClient(config.SocketPath)
	if client.Ping(time.Second) {
		return nil
	}

	path, err := daemonBinaryPath()
	if err != nil {
		return err
	}

	logger.Infof("Daemon not running, launching %s", path)

	cmd := exec.Command(path, "--unit-dir", config.UnitDir, "--state-dir", config.StateDir)
	cmd.Stdout = nil
	cmd.Stderr = nil
	detachProcess(cmd)
	if err := cmd.Start(); err != nil {
		return errors.NewProcessError("failed to launch daemon", err).WithContext("path", path)
	}
	// The daemon outlives us; release the handle rather than waiting
	go func() { _ = cmd.Wait() }()

	deadline := time.Now().Add(bootstrapTimeout)
	for time.Now().Before(deadline) {
		if client.Ping(500 * time.Millisecond) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return errors.NewTimeoutError("daemon did not become ready within timeout", nil).
		WithContext("socket", config.SocketPath)
}

// daemonBinaryPath locates servitord: next to the current executable
// first, then on PATH
func daemonBinaryPath() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), DaemonBinaryName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(DaemonBinaryName)
	if err != nil {
		return "", errors.NewNotFoundError("daemon binary not found", err).
			WithContext("binary", DaemonBinaryName)
	}
	return path, nil
}
