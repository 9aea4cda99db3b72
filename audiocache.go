// Package audiocache is a client for audiocache servers.
//
// A Client asks each configured server in turn and moves on to the next one
// when a server fails before sending any audio.
package audiocache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/lucasew/audiocache/internal/errutil"
	"github.com/shogo82148/go-sfv"
)

// ServerEnv lists the default servers as a structured field list,
// e.g. `"http://a:8080", "http://b:8080"`.
const ServerEnv = "AUDIOCACHE_SERVER"

var (
	// ErrNoServers is returned when the client has no server to ask.
	ErrNoServers = errors.New("no audiocache server configured")

	// ErrPartialWrite is returned when data was already written to the output
	// before a failure occurred, making fallback to another server unsafe.
	ErrPartialWrite = errors.New("partial write")

	// ErrShortBody is returned when a server sends fewer bytes than it announced.
	ErrShortBody = errors.New("short body")

	// ErrAllServersFailed is returned when no server could provide the audio.
	ErrAllServersFailed = errors.New("all servers failed")
)

// HTTPStatusError is returned when a server responds with a non-200 status code.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Download is a server's answer for a stored link.
type Download struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Title  string `json:"title"`
	Size   int64  `json:"size"`
	Cached bool   `json:"cached"`
}

type Client struct {
	HTTP    *http.Client
	Servers []string
}

// NewClient returns a client for servers, or for the servers listed in
// AUDIOCACHE_SERVER when none are given.
func NewClient(httpClient *http.Client, servers ...string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if len(servers) == 0 {
		servers = ServersFromEnv()
	}
	return &Client{
		HTTP:    httpClient,
		Servers: servers,
	}
}

// ServersFromEnv parses AUDIOCACHE_SERVER. A malformed value is logged and ignored.
func ServersFromEnv() []string {
	envServer := os.Getenv(ServerEnv)
	if envServer == "" {
		return nil
	}
	list, err := sfv.DecodeList([]string{envServer})
	if err != nil {
		errutil.LogMsg(err, "Failed to parse "+ServerEnv)
		return nil
	}
	var servers []string
	for _, item := range list {
		if s, ok := item.Value.(string); ok {
			servers = append(servers, s)
		}
	}
	return servers
}

// Resolve asks the servers to store sourceURL and returns the first answer.
func (c *Client) Resolve(ctx context.Context, sourceURL string) (*Download, error) {
	if len(c.Servers) == 0 {
		return nil, ErrNoServers
	}

	var lastErr error
	for _, server := range c.Servers {
		d, err := c.resolve(ctx, server, sourceURL)
		if err == nil {
			return d, nil
		}
		lastErr = err
		errutil.LogMsg(err, "Failed to resolve on server", "server", server)
	}
	return nil, fmt.Errorf("%w: %w", ErrAllServersFailed, lastErr)
}

func (c *Client) resolve(ctx context.Context, server, sourceURL string) (*Download, error) {
	resp, err := c.post(ctx, server, sourceURL, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
	}()

	var d Download
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}

	// Servers without a public base URL answer with a path.
	base, err := url.Parse(strings.TrimRight(server, "/") + "/")
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid media url %q: %w", d.URL, err)
	}
	d.URL = base.ResolveReference(ref).String()
	return &d, nil
}

// Stream writes the audio for sourceURL to out.
func (c *Client) Stream(ctx context.Context, sourceURL string, out io.Writer) error {
	if len(c.Servers) == 0 {
		return ErrNoServers
	}

	cw := &countingWriter{Writer: out}
	var lastErr error
	for _, server := range c.Servers {
		lastErr = c.stream(ctx, server, sourceURL, cw)
		if lastErr == nil {
			return nil
		}
		errutil.LogMsg(lastErr, "Failed to stream from server", "server", server)
		if cw.N > 0 {
			return fmt.Errorf("%w: %w", ErrPartialWrite, lastErr)
		}
	}
	return fmt.Errorf("%w: %w", ErrAllServersFailed, lastErr)
}

func (c *Client) stream(ctx context.Context, server, sourceURL string, out io.Writer) error {
	resp, err := c.post(ctx, server, sourceURL, true)
	if err != nil {
		return err
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
	}()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrShortBody, resp.ContentLength, n)
	}
	return nil
}

func (c *Client) post(ctx context.Context, server, sourceURL string, stream bool) (*http.Response, error) {
	form := url.Values{"url": {sourceURL}}
	if stream {
		form.Set("stream", "1")
	}
	u := strings.TrimRight(server, "/") + "/download"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() {
			errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
		}()
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	return resp, nil
}

type countingWriter struct {
	Writer io.Writer
	N      int64
}

func (c *countingWriter) Write(p []byte) (n int, err error) {
	n, err = c.Writer.Write(p)
	c.N += int64(n)
	return n, err
}
