package minfree

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/audiocache/internal/eviction/policy"
)

// Usage is the space accounting of a filesystem, in bytes.
// Free is the space available to unprivileged callers.
type Usage struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// UsageFunc reads the usage of the filesystem backing path.
type UsageFunc func(path string) (Usage, error)

// Policy triggers eviction when disk free space is below a threshold.
type Policy struct {
	Path         string
	MinFreeBytes int64
	// Usage defaults to DiskUsage.
	Usage UsageFunc
}

func (p *Policy) Check() (policy.Decision, error) {
	usage := p.Usage
	if usage == nil {
		usage = DiskUsage
	}

	u, err := usage(p.Path)
	if err != nil {
		return policy.Decision{}, &policy.StorageUnavailableError{Path: p.Path, Err: err}
	}

	free := clamp(u.Free)
	slog.Debug("Disk space check", "path", p.Path, "free_bytes", free, "min_required", p.MinFreeBytes)

	d := policy.Decision{
		MustEvict:  free < p.MinFreeBytes,
		FreeBytes:  free,
		TotalBytes: clamp(u.Total),
		UsedBytes:  clamp(u.Used),
		Threshold:  p.MinFreeBytes,
	}
	if d.MustEvict {
		d.Reason = fmt.Sprintf("free space %s below %s", humanize.IBytes(u.Free), humanize.IBytes(uint64(p.MinFreeBytes)))
	}
	return d, nil
}

func clamp(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
