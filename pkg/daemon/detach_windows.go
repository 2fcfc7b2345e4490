//go:build windows

package daemon

import (
	"os/exec"
	"syscall"
)

// detachProcess starts the daemon detached from the launching console
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x00000008, // DETACHED_PROCESS
	}
}
