package repository

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrInvalidName is returned for names that would escape the media directory.
	ErrInvalidName = errors.New("invalid artifact name")

	// ErrNotRegular is returned when an entry exists but is not a regular file.
	ErrNotRegular = errors.New("not a regular file")
)

// Fetcher produces the content of an artifact that is not stored yet.
type Fetcher func() (io.ReadCloser, int64, error)

type Repository interface {
	Exists(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

// Stored describes an artifact after a successful Put.
type Stored struct {
	Name     string
	Path     string
	Size     int64
	Checksum string
	// Existing is set when the artifact was already present and nothing was fetched.
	Existing bool
}
