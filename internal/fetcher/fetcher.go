// Package fetcher turns a source link into a stream of audio bytes.
//
// The heavy lifting is delegated to extractors: yt-dlp for video platforms and
// a plain HTTP GET for links that already point at a media file.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
)

var (
	// ErrUnsupportedURL is returned when no extractor accepts the link.
	ErrUnsupportedURL = errors.New("unsupported url")

	// ErrNoAudio is returned when an extractor produced nothing usable.
	ErrNoAudio = errors.New("no audio stream found")
)

// HTTPStatusError is returned when a source responds with a non-200 status code.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Media is an audio stream ready to be stored. The caller must close Body.
type Media struct {
	Title string
	// Ext is the file extension without the leading dot.
	Ext  string
	Body io.ReadCloser
	// Size is -1 when unknown.
	Size int64
}

// Extractor resolves a link into Media.
type Extractor interface {
	Name() string
	Match(u *url.URL) bool
	Extract(ctx context.Context, u *url.URL) (*Media, error)
}

// Service picks the first extractor that matches a link.
type Service struct {
	extractors []Extractor
}

func NewService(extractors ...Extractor) *Service {
	return &Service{extractors: extractors}
}

func (s *Service) Fetch(ctx context.Context, rawURL string) (*Media, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}

	for _, e := range s.extractors {
		if !e.Match(u) {
			continue
		}
		slog.Info("Extracting audio", "url", rawURL, "extractor", e.Name())
		media, err := e.Extract(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		return media, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
}
