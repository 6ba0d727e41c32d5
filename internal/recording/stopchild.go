package recording

import (
	"io"
	"os/exec"
	"time"
)

const (
	quitGrace = 10 * time.Second
	termGrace = 5 * time.Second
)

// stopChild stops a transcoder process with escalating pressure: ask it
// to finish via "q" on stdin so the output file gets finalized, then
// terminate, then kill. waitCh must carry the result of cmd.Wait and is
// always drained so the child never leaks as a zombie.
func stopChild(cmd *exec.Cmd, stdin io.WriteCloser, waitCh <-chan error) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if stdin != nil {
		// Errors here just mean the pipe is gone; escalation follows.
		_, _ = io.WriteString(stdin, "q\n")
		stdin.Close()

		select {
		case err := <-waitCh:
			return err
		case <-time.After(quitGrace):
		}
	}

	_ = terminate(cmd)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(termGrace):
	}

	_ = cmd.Process.Kill()
	return <-waitCh
}
