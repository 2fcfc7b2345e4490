// Package daemon wires the supervision engine into a long-lived background
// process: state directory layout, PID file, control endpoint, unit
// directory loading and watching, and the client-side bootstrap that
// launches the daemon on demand.
package daemon

import (
	"os"
	"path/filepath"

	"github.com/praxis-tools/servitor/pkg/errors"
)

// DefaultStateDirName is the per-user state directory under $HOME
const DefaultStateDirName = ".servitor"

// Config holds the daemon's filesystem layout
type Config struct {
	StateDir   string // holds socket, pid file, log file
	SocketPath string
	PIDFile    string
	LogFile    string
	UnitDir    string // directory of *.service unit files
}

// DefaultConfig returns the per-user daemon layout: state under
// ~/.servitor, units from unitDir (default ./services, as a
// project-local convention).
func DefaultConfig(unitDir string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.NewIOError("failed to resolve home directory", err)
	}
	stateDir := filepath.Join(home, DefaultStateDirName)

	if unitDir == "" {
		unitDir = "./services"
	}

	return Config{
		StateDir:   stateDir,
		SocketPath: filepath.Join(stateDir, "daemon.sock"),
		PIDFile:    filepath.Join(stateDir, "daemon.pid"),
		LogFile:    filepath.Join(stateDir, "daemon.log"),
		UnitDir:    unitDir,
	}, nil
}

// WithStateDir rebases the socket, PID file, and log file onto another
// state directory
func (c Config) WithStateDir(stateDir string) Config {
	c.StateDir = stateDir
	c.SocketPath = filepath.Join(stateDir, "daemon.sock")
	c.PIDFile = filepath.Join(stateDir, "daemon.pid")
	c.LogFile = filepath.Join(stateDir, "daemon.log")
	return c
}

// EnsureDirs creates the state and unit directories if missing
func (c Config) EnsureDirs() error {
	if err := os.MkdirAll(c.StateDir, 0700); err != nil {
		return errors.NewIOError("failed to create state directory", err).WithContext("dir", c.StateDir)
	}
	if err := os.MkdirAll(c.UnitDir, 0755); err != nil {
		return errors.NewIOError("failed to create unit directory", err).WithContext("dir", c.UnitDir)
	}
	return nil
}
