//go:build !linux && !darwin && !freebsd && !windows

package minfree

import (
	"fmt"
	"runtime"
)

func DiskUsage(path string) (Usage, error) {
	return Usage{}, fmt.Errorf("disk usage not supported on %s", runtime.GOOS)
}
