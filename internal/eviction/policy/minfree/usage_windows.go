//go:build windows

package minfree

import "golang.org/x/sys/windows"

// DiskUsage returns the usage of the volume containing path.
func DiskUsage(path string) (Usage, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Usage{}, err
	}

	var avail, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &totalFree); err != nil {
		return Usage{}, err
	}
	return Usage{Total: total, Used: total - totalFree, Free: avail}, nil
}
