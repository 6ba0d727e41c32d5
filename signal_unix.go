//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals lists the signals that trigger a graceful shutdown.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// reloadSignals lists the signals that trigger a configuration reload.
func reloadSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP}
}
