package eviction

import (
	"context"
	"time"
)

// Artifact is a single stored file in the media volume.
type Artifact struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// Store is the view of the media volume the Manager enumerates and deletes through.
type Store interface {
	// List returns a snapshot of the regular files directly under the volume.
	// Subdirectories and symlinks are not part of the snapshot.
	List() ([]Artifact, error)

	// Remove deletes the named artifact. A file that no longer exists yields
	// an error matching fs.ErrNotExist (or ErrAlreadyAbsent).
	Remove(name string) error
}

// Strategy decides which artifacts to remove so that at most retain survive.
type Strategy interface {
	// Select returns the victims in deletion order. It must not modify the input.
	Select(artifacts []Artifact, retain int) []Artifact
}

// Observer is notified after every completed eviction pass.
type Observer interface {
	EvictionCompleted(ctx context.Context, result *Result) error
}
