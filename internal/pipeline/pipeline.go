// Package pipeline stores the audio behind a link in the media volume and
// trims the volume afterwards.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/lucasew/audiocache/internal/db"
	"github.com/lucasew/audiocache/internal/errutil"
	"github.com/lucasew/audiocache/internal/eviction"
	"github.com/lucasew/audiocache/internal/fetcher"
	"github.com/lucasew/audiocache/internal/hashutil"
	"github.com/lucasew/audiocache/internal/repository"
	"golang.org/x/sync/singleflight"
)

// Catalog remembers which artifact a link was stored as.
type Catalog interface {
	Lookup(ctx context.Context, sourceURL string) (db.Entry, bool, error)
	Record(ctx context.Context, e db.Entry) error
}

// Evictor is the check-and-evict pass run after every stored artifact.
type Evictor interface {
	RunOnce(ctx context.Context) (*eviction.Report, error)
}

// Fetcher resolves a link into audio bytes.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Media, error)
}

// Download describes a stored artifact.
type Download struct {
	Name  string
	Title string
	Size  int64
	// Cached is set when the link was served from the volume without fetching.
	Cached bool
}

type Pipeline struct {
	Repo    *repository.LocalRepository
	Fetcher Fetcher
	Catalog Catalog
	Evictor Evictor
	// Progress, if set, receives every byte written for a new artifact.
	Progress func(size int64) io.Writer

	g singleflight.Group
}

// Name derives the artifact file name for a link.
func Name(sourceURL, ext string) string {
	sum, _ := hashutil.HexSum(repository.ChecksumAlgo, []byte(sourceURL))
	if ext == "" {
		ext = "bin"
	}
	return sum[:16] + "." + ext
}

// Download returns the artifact for sourceURL, fetching and storing it first
// when it is not in the volume. Concurrent calls for the same link share one fetch.
func (p *Pipeline) Download(ctx context.Context, sourceURL string) (*Download, error) {
	v, err, _ := p.g.Do(sourceURL, func() (interface{}, error) {
		return p.download(ctx, sourceURL)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Download), nil
}

func (p *Pipeline) download(ctx context.Context, sourceURL string) (*Download, error) {
	entry, found, err := p.Catalog.Lookup(ctx, sourceURL)
	errutil.LogMsg(err, "Catalog lookup failed", "url", sourceURL)
	if found {
		if ok, _ := p.Repo.Exists(ctx, entry.Name); ok {
			slog.Debug("Cache hit", "url", sourceURL, "name", entry.Name)
			return &Download{Name: entry.Name, Title: entry.Title, Size: entry.Size, Cached: true}, nil
		}
		slog.Info("Catalog entry points to an evicted artifact", "url", sourceURL, "name", entry.Name)
	}

	media, err := p.Fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", sourceURL, err)
	}
	defer errutil.CloseQuietly(media.Body, "Failed to close media stream", "url", sourceURL)

	name := Name(sourceURL, media.Ext)
	stored, err := p.Repo.Put(ctx, name, func() (io.ReadCloser, int64, error) {
		var body io.Reader = media.Body
		if p.Progress != nil {
			body = io.TeeReader(body, p.Progress(media.Size))
		}
		return io.NopCloser(body), media.Size, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", sourceURL, err)
	}

	errutil.ReportError(p.Catalog.Record(ctx, db.Entry{
		SourceURL: sourceURL,
		Name:      stored.Name,
		Title:     media.Title,
		Size:      stored.Size,
		Checksum:  stored.Checksum,
	}), "Failed to record artifact", "url", sourceURL)

	p.trim(ctx)

	return &Download{Name: stored.Name, Title: media.Title, Size: stored.Size, Cached: stored.Existing}, nil
}

// trim runs the capacity check after a write. A failure here never fails the download.
func (p *Pipeline) trim(ctx context.Context) {
	if p.Evictor == nil {
		return
	}
	report, err := p.Evictor.RunOnce(ctx)
	if err != nil {
		errutil.ReportError(err, "Post-download eviction failed")
		return
	}
	if report.Result != nil {
		slog.Info("Trimmed media volume", "summary", report.Summary())
	}
}
