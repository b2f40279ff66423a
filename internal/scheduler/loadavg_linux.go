//go:build linux

package scheduler

import (
	"fmt"
	"os"
)

// ReadLoadAverage reads /proc/loadavg, matching load.py's os.getloadavg()
// use on Linux.
func ReadLoadAverage() (one, five, fifteen float64, err error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, 0, 0, err
	}
	if _, err := fmt.Sscanf(string(data), "%f %f %f", &one, &five, &fifteen); err != nil {
		return 0, 0, 0, err
	}
	return one, five, fifteen, nil
}
