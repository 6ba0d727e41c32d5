//go:build !windows

package recording

import (
	"os/exec"
	"syscall"
)

func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGTERM)
}
