//go:build unix

package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// groupWaitDelay bounds pipe reads after the process group was killed.
const groupWaitDelay = 3 * time.Second

// setupProcessGroup starts cmd in its own session so that cancellation kills
// every process it spawned, not just the shell.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		pid := cmd.Process.Pid
		// kill(-1) and kill(0) would hit far more than the command.
		if pid <= 1 {
			return os.ErrProcessDone
		}
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
			if errors.Is(err, unix.ESRCH) {
				return os.ErrProcessDone
			}
			return err
		}
		return nil
	}
	cmd.WaitDelay = groupWaitDelay
}
