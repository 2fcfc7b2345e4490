package process

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/logging"
)

// SpawnConfig describes one process invocation: the command line, the
// working directory, and the environment entries merged over the daemon's
// own environment.
type SpawnConfig struct {
	Command          string
	WorkingDirectory string
	Environment      []string
}

// SplitCommandLine splits an exec_start/exec_stop command line on
// whitespace. No shell quoting is applied; a unit that needs shell
// features should invoke "sh -c" explicitly.
func SplitCommandLine(command string) []string {
	return strings.Fields(command)
}

// MergeEnvironment merges entries over base with duplicate keys resolved
// last-wins, preserving first-seen key order.
func MergeEnvironment(base, entries []string) []string {
	index := make(map[string]int)
	merged := make([]string, 0, len(base)+len(entries))
	for _, e := range append(append([]string{}, base...), entries...) {
		key := e
		if i := strings.IndexByte(e, '='); i >= 0 {
			key = e[:i]
		}
		if at, seen := index[key]; seen {
			merged[at] = e
			continue
		}
		index[key] = len(merged)
		merged = append(merged, e)
	}
	return merged
}

// Spawn starts the configured command in its own process group and returns
// the process handle. The caller owns the handle and must Wait on it.
// Errors are classified so the supervisor can record them: a missing
// executable, a permission problem, and an invalid working directory are
// distinct failures.
func Spawn(ctx context.Context, config SpawnConfig, id string, logger logging.Logger) (*os.Process, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}

	argv := SplitCommandLine(config.Command)
	if len(argv) == 0 {
		return nil, errors.NewValidationError("empty command line", nil).WithContext("id", id)
	}

	if config.WorkingDirectory != "" {
		info, err := os.Stat(config.WorkingDirectory)
		if err != nil || !info.IsDir() {
			return nil, errors.NewIOError("working directory invalid", err).
				WithContext("id", id).WithContext("working_directory", config.WorkingDirectory)
		}
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.NewPermissionError("executable not permitted", err).
				WithContext("id", id).WithContext("executable", argv[0])
		}
		return nil, errors.NewProcessError("executable not found", err).
			WithContext("id", id).WithContext("executable", argv[0])
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.Dir = config.WorkingDirectory
	cmd.Env = MergeEnvironment(os.Environ(), config.Environment)

	// New process group so termination signals reach the whole tree
	setupProcessAttributes(cmd)

	if err := cmd.Start(); err != nil {
		if os.IsPermission(err) {
			return nil, errors.NewPermissionError("failed to start process", err).
				WithContext("id", id).WithContext("executable", path)
		}
		return nil, errors.NewProcessError("failed to start process", err).
			WithContext("id", id).WithContext("executable", path)
	}

	if ctx.Err() != nil {
		logger.Infof("Context cancelled during startup, killing PID %d, id: %s", cmd.Process.Pid, id)
		_ = cmd.Process.Kill()
		go func() { _, _ = cmd.Process.Wait() }()
		return nil, errors.NewCancelledError("startup cancelled", ctx.Err()).WithContext("id", id)
	}

	logger.Debugf("Process started, id: %s, PID: %d, command: %s", id, cmd.Process.Pid, config.Command)

	return cmd.Process, nil
}
