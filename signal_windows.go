//go:build windows

package main

import "os"

// shutdownSignals lists the signals that trigger a graceful shutdown.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// reloadSignals lists the signals that trigger a configuration reload.
// Windows has no SIGHUP equivalent.
func reloadSignals() []os.Signal {
	return nil
}
