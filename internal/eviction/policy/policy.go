package policy

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrStorageUnavailable is matched by every StorageUnavailableError.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Policy decides whether eviction must run.
type Policy interface {
	// Check samples the current state. It must never report MustEvict=false
	// when the state could not be read; it returns an error instead.
	Check() (Decision, error)
}

// Decision is the outcome of a single capacity check.
type Decision struct {
	MustEvict  bool
	FreeBytes  int64
	TotalBytes int64
	UsedBytes  int64
	// Threshold is the limit the policy compared against.
	Threshold int64
	Reason    string
}

func (d Decision) String() string {
	if d.Reason != "" {
		return d.Reason
	}
	if d.TotalBytes > 0 {
		return fmt.Sprintf("%s free of %s, threshold %s",
			humanize.IBytes(uint64(d.FreeBytes)), humanize.IBytes(uint64(d.TotalBytes)), humanize.IBytes(uint64(d.Threshold)))
	}
	return fmt.Sprintf("%s used, threshold %s", humanize.IBytes(uint64(d.UsedBytes)), humanize.IBytes(uint64(d.Threshold)))
}

// StorageUnavailableError is returned when the volume cannot be statted.
type StorageUnavailableError struct {
	Path string
	Err  error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable at %s: %v", e.Path, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

func (e *StorageUnavailableError) Is(target error) bool { return target == ErrStorageUnavailable }
