//go:build windows
// +build windows

package procmgr

import (
	"os"
	"os/exec"
	"syscall"
)

// configurePlatformProcess hides the child's console window; Windows has
// no process-group equivalent the way unix does, so shutdown sends no
// signal and ends in Kill once the grace period runs out (see
// requestGracefulStop).
func configurePlatformProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow: true,
	}
}

// requestGracefulStop has no portable graceful-signal equivalent to
// SIGINT on Windows; Shutdown's grace timer still applies, but the
// process will not observe a request to stop until the hard kill.
func requestGracefulStop(p *os.Process) {}
