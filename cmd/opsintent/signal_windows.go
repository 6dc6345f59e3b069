//go:build windows

package main

import (
	"os"
)

// terminationSignals lists the signals that should trigger a graceful shutdown.
// Windows primarily uses os.Interrupt (Ctrl+C).
var terminationSignals = []os.Signal{os.Interrupt}

// reloadSignals is empty on Windows; use a restart to pick up new rules.
var reloadSignals []os.Signal
