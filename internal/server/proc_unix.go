//go:build unix

package server

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the server in its own process group so a kill
// reaches the JVM and anything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func killProcessGroup(cmd *exec.Cmd) error {
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		if err == unix.ESRCH {
			return nil
		}
		return cmd.Process.Kill()
	}
	return nil
}
