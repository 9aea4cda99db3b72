package eviction

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyAbsent marks an artifact that vanished between enumeration and deletion.
	ErrAlreadyAbsent = errors.New("artifact already absent")

	// ErrEnumeration is matched by every EnumerationError.
	ErrEnumeration = errors.New("cannot enumerate volume")

	// ErrInvalidVolume is returned by Volume.Validate.
	ErrInvalidVolume = errors.New("invalid volume")

	// ErrNoPolicies is returned by a capacity check with nothing to check.
	ErrNoPolicies = errors.New("no capacity policy configured")
)

// EnumerationError is returned when the volume directory cannot be listed.
// No deletion is attempted when it occurs.
type EnumerationError struct {
	Path string
	Err  error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("failed to enumerate %s: %v", e.Path, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

func (e *EnumerationError) Is(target error) bool { return target == ErrEnumeration }

// DeletionError records a single artifact that could not be removed.
type DeletionError struct {
	Path string
	Err  error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("failed to delete %s: %v", e.Path, e.Err)
}

func (e *DeletionError) Unwrap() error { return e.Err }
