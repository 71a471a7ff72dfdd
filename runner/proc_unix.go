//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own group so ffmpeg helpers die with it
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the whole process group led by pid
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}

func terminateGroup(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// KillGroup force-kills the process group led by pid. Exited groups are not an error.
func KillGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}
