//go:build linux || darwin || freebsd

package minfree

import "golang.org/x/sys/unix"

// DiskUsage returns the usage of the filesystem containing path.
func DiskUsage(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, err
	}

	bsize := uint64(stat.Bsize)
	total := uint64(stat.Blocks) * bsize
	// Available blocks * block size
	free := uint64(stat.Bavail) * bsize
	used := total - uint64(stat.Bfree)*bsize

	return Usage{Total: total, Used: used, Free: free}, nil
}
