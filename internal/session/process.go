package session

import (
	"os/exec"
	"syscall"
	"time"
)

// killGrace is how long a process group gets between SIGTERM and SIGKILL.
const killGrace = 3 * time.Second

// killProcessGroup sends SIGTERM to the command's process group, waits for
// done to close, then escalates to SIGKILL.
func killProcessGroup(cmd *exec.Cmd, done <-chan struct{}) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	_ = syscall.Kill(pid, syscall.SIGTERM)

	select {
	case <-done:
		return
	case <-time.After(killGrace):
	}

	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	_ = syscall.Kill(pid, syscall.SIGKILL)
}

