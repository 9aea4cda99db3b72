package eviction

import (
	"fmt"
	"path/filepath"
	"sync"
)

const (
	// DefaultMinFreeBytes is the free-space floor kept on the media volume.
	DefaultMinFreeBytes int64 = 30 << 30

	// DefaultRetainCount is how many artifacts survive an eviction pass.
	DefaultRetainCount = 50
)

// Volume describes the directory that hosts cached artifacts and the limits
// enforced on it. It is read on every check and never mutated.
type Volume struct {
	Path         string
	MinFreeBytes int64
	RetainCount  int
	// MaxBytes additionally triggers eviction when the artifacts grow past it. Zero disables it.
	MaxBytes int64
}

// NewVolume returns a Volume at path with the default limits.
func NewVolume(path string) Volume {
	return Volume{
		Path:         path,
		MinFreeBytes: DefaultMinFreeBytes,
		RetainCount:  DefaultRetainCount,
	}
}

func (v Volume) Validate() error {
	switch {
	case v.Path == "":
		return fmt.Errorf("%w: empty path", ErrInvalidVolume)
	case v.MinFreeBytes < 0:
		return fmt.Errorf("%w: negative free space threshold %d", ErrInvalidVolume, v.MinFreeBytes)
	case v.RetainCount < 0:
		return fmt.Errorf("%w: negative retain count %d", ErrInvalidVolume, v.RetainCount)
	case v.MaxBytes < 0:
		return fmt.Errorf("%w: negative max size %d", ErrInvalidVolume, v.MaxBytes)
	}
	return nil
}

var volumeLocks sync.Map

// lockVolume serializes eviction passes per directory across every Manager in
// the process and returns the matching unlock function.
func lockVolume(path string) func() {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	mu, _ := volumeLocks.LoadOrStore(filepath.Clean(key), &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
