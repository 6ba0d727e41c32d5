//go:build windows

package recording

import "os/exec"

func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
