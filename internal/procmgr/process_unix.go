//go:build !windows
// +build !windows

package procmgr

import (
	"os"
	"os/exec"
	"syscall"
)

// configurePlatformProcess puts the child in its own process group so a
// shutdown signal can reach it without also hitting the conductor.
func configurePlatformProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// requestGracefulStop asks the process to exit via SIGINT, its one
// portable graceful-shutdown signal across the components this conductor
// spawns.
func requestGracefulStop(p *os.Process) {
	p.Signal(os.Interrupt)
}
