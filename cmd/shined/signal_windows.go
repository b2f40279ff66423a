//go:build windows

package main

import "os"

// gracefulSignals trigger spec.md §5's SIGINT path; Windows only raises
// os.Interrupt (Ctrl+C).
var gracefulSignals = []os.Signal{os.Interrupt}

// immediateSignals is empty on Windows: there is no SIGTERM-equivalent
// delivered to a console process the same way.
var immediateSignals []os.Signal

// reloadSignal is nil on Windows: SIGHUP does not exist.
var reloadSignal os.Signal

func rearmDefaultAndSignalGroup() {}
