//go:build !windows

package daemon

import (
	"os/exec"
	"syscall"
)

// detachProcess starts the daemon in its own session so it survives the
// launching client's terminal
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
