//go:build !unix

package sandbox

import (
	"os/exec"
	"time"
)

func setupProcessGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = 3 * time.Second
}
