package fetcher

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// DirectExtractor downloads links that already point at a media file.
type DirectExtractor struct {
	Client *http.Client
}

func NewDirectExtractor(client *http.Client) *DirectExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &DirectExtractor{Client: client}
}

func (d *DirectExtractor) Name() string { return "direct" }

func (d *DirectExtractor) Match(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

func (d *DirectExtractor) Extract(ctx context.Context, u *url.URL) (*Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	base := path.Base(u.Path)
	ext := strings.TrimPrefix(path.Ext(base), ".")
	if ext == "" {
		ext = extFromContentType(resp.Header.Get("Content-Type"))
	}
	title := strings.TrimSuffix(base, path.Ext(base))
	if title == "" || title == "/" || title == "." {
		title = u.Host
	}

	return &Media{
		Title: title,
		Ext:   ext,
		Body:  resp.Body,
		Size:  resp.ContentLength,
	}, nil
}

func extFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil {
		switch mediaType {
		case "audio/mpeg":
			return "mp3"
		case "audio/mp4":
			return "m4a"
		}
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			return strings.TrimPrefix(exts[0], ".")
		}
	}
	return "bin"
}
