package repository

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasew/audiocache/internal/errutil"
	"github.com/lucasew/audiocache/internal/eviction"
	"github.com/lucasew/audiocache/internal/hashutil"
	"golang.org/x/sync/singleflight"
)

// PartialDir is the subdirectory holding downloads in progress.
// Eviction never traverses subdirectories, so partial files are never victims.
const PartialDir = ".partial"

// ChecksumAlgo is the algorithm used for the checksum reported by Put.
const ChecksumAlgo = "sha256"

// LocalRepository stores artifacts as flat files in a single directory.
//
// It is both where the download pipeline writes and the eviction.Store the
// eviction manager enumerates and deletes through.
type LocalRepository struct {
	Dir string
	g   singleflight.Group
}

var _ eviction.Store = (*LocalRepository)(nil)

func NewLocalRepository(dir string) *LocalRepository {
	return &LocalRepository{Dir: dir}
}

func (r *LocalRepository) getPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." || name == PartialDir ||
		strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(r.Dir, name), nil
}

func (r *LocalRepository) Exists(ctx context.Context, name string) (bool, error) {
	path, err := r.getPath(name)
	if err != nil {
		return false, err
	}
	info, err := os.Lstat(path)
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (r *LocalRepository) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	path, err := r.getPath(name)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%s: %w", name, ErrNotRegular)
	}
	return f, info.Size(), nil
}

// Put stores an artifact if it doesn't already exist.
//
// Concurrent calls for the same name share one fetch. Content is written to a
// temporary file under PartialDir and renamed into place only once complete,
// so readers and the eviction manager never observe a half-written artifact.
func (r *LocalRepository) Put(ctx context.Context, name string, fetcher Fetcher) (*Stored, error) {
	finalPath, err := r.getPath(name)
	if err != nil {
		return nil, err
	}

	v, err, _ := r.g.Do(name, func() (interface{}, error) {
		// Double check existence
		if info, err := os.Stat(finalPath); err == nil && info.Mode().IsRegular() {
			return &Stored{Name: name, Path: finalPath, Size: info.Size(), Existing: true}, nil
		}

		reader, _, err := fetcher()
		if err != nil {
			return nil, err
		}
		defer errutil.CloseQuietly(reader, "Failed to close fetched content", "name", name)

		partial := filepath.Join(r.Dir, PartialDir)
		if err := os.MkdirAll(partial, 0755); err != nil {
			return nil, fmt.Errorf("failed to create partial dir: %w", err)
		}

		tmpFile, err := os.CreateTemp(partial, "put-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp file: %w", err)
		}
		defer func() { _ = os.Remove(tmpFile.Name()) }()
		defer func() { _ = tmpFile.Close() }()

		hasher, err := hashutil.GetHasher(ChecksumAlgo)
		if err != nil {
			return nil, err
		}

		written, err := io.Copy(io.MultiWriter(tmpFile, hasher), reader)
		if err != nil {
			return nil, fmt.Errorf("failed to write to temp file: %w", err)
		}

		if err := tmpFile.Close(); err != nil {
			return nil, fmt.Errorf("failed to close temp file: %w", err)
		}

		if err := os.Rename(tmpFile.Name(), finalPath); err != nil {
			return nil, fmt.Errorf("failed to rename to final path: %w", err)
		}

		checksum := hex.EncodeToString(hasher.Sum(nil))
		slog.Info("Stored artifact", "name", name, "size", written, "sha256", checksum)
		return &Stored{Name: name, Path: finalPath, Size: written, Checksum: checksum}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Stored), nil
}

// List returns the regular files directly under Dir.
func (r *LocalRepository) List() ([]eviction.Artifact, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, err
	}

	artifacts := make([]eviction.Artifact, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Removed since ReadDir.
				continue
			}
			return nil, err
		}
		artifacts = append(artifacts, eviction.Artifact{
			Name:    entry.Name(),
			Path:    filepath.Join(r.Dir, entry.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return artifacts, nil
}

// Remove deletes the named artifact. It refuses to touch anything that is not a regular file.
func (r *LocalRepository) Remove(name string) error {
	path, err := r.getPath(name)
	if err != nil {
		return err
	}
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", name, ErrNotRegular)
	}
	return os.Remove(path)
}
