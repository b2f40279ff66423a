//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// gracefulSignals trigger spec.md §5's SIGINT path: windup, drain
// in-flight workers, final save, exit.
var gracefulSignals = []os.Signal{os.Interrupt}

// immediateSignals trigger spec.md §5's SIGTERM path: kill every running
// task, final save, re-arm SIGTERM to default, signal the process group.
var immediateSignals = []os.Signal{syscall.SIGTERM}

// reloadSignal is SIGHUP, absent on Windows.
var reloadSignal os.Signal = syscall.SIGHUP

// rearmDefaultAndSignalGroup implements the last two steps of the
// SIGTERM-immediate path: re-arm SIGTERM to its default disposition, then
// send it to the process's own group so any child that missed the first
// round (or a supervising process tree) also observes it.
func rearmDefaultAndSignalGroup() {
	signal.Reset(syscall.SIGTERM)
	_ = syscall.Kill(0, syscall.SIGTERM)
}
