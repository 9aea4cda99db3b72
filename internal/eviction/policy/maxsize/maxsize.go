package maxsize

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/audiocache/internal/eviction/policy"
)

// Policy triggers eviction when the stored artifacts exceed a fixed size.
type Policy struct {
	MaxBytes int64
	// Size reports the current total size of the artifacts.
	Size func() (int64, error)
}

func (m *Policy) Check() (policy.Decision, error) {
	current, err := m.Size()
	if err != nil {
		return policy.Decision{}, fmt.Errorf("failed to measure cache size: %w", err)
	}

	d := policy.Decision{UsedBytes: current, Threshold: m.MaxBytes}
	if current > m.MaxBytes {
		d.MustEvict = true
		d.Reason = fmt.Sprintf("cache size %s above %s", humanize.IBytes(uint64(current)), humanize.IBytes(uint64(m.MaxBytes)))
	}
	return d, nil
}
