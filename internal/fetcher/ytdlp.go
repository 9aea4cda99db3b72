package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"github.com/lucasew/audiocache/internal/errutil"
)

// DefaultYTDLPHosts are the hosts routed to yt-dlp.
var DefaultYTDLPHosts = []string{"youtube.com", "youtu.be", "music.youtube.com"}

// YTDLPExtractor extracts the audio track of a video page with yt-dlp.
// The yt-dlp binary must be on PATH (see InstallYTDLP).
type YTDLPExtractor struct {
	Hosts []string
	// AudioFormat is passed to --audio-format. Defaults to mp3.
	AudioFormat string
	// WorkDir hosts the per-download scratch directories. Defaults to the OS temp dir.
	WorkDir string
}

func NewYTDLPExtractor(workDir string) *YTDLPExtractor {
	return &YTDLPExtractor{
		Hosts:       DefaultYTDLPHosts,
		AudioFormat: "mp3",
		WorkDir:     workDir,
	}
}

// InstallYTDLP downloads a yt-dlp binary into the user cache when none is available.
func InstallYTDLP(ctx context.Context) error {
	_, err := ytdlp.Install(ctx, nil)
	return err
}

func (y *YTDLPExtractor) Name() string { return "yt-dlp" }

func (y *YTDLPExtractor) Match(u *url.URL) bool {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return slices.ContainsFunc(y.Hosts, func(h string) bool {
		return host == h || strings.HasSuffix(host, "."+h)
	})
}

func (y *YTDLPExtractor) Extract(ctx context.Context, u *url.URL) (*Media, error) {
	format := y.AudioFormat
	if format == "" {
		format = "mp3"
	}

	dir, err := os.MkdirTemp(y.WorkDir, "ytdlp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	_, err = ytdlp.New().
		ExtractAudio().
		AudioFormat(format).
		NoPlaylist().
		Output(filepath.Join(dir, "%(title)s.%(ext)s")).
		Run(ctx, u.String())
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	media, err := openExtracted(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return media, nil
}

// openExtracted opens the single file yt-dlp left in dir. Closing the returned
// body removes dir.
func openExtracted(dir string) (*Media, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		ext := filepath.Ext(entry.Name())
		return &Media{
			Title: strings.TrimSuffix(entry.Name(), ext),
			Ext:   strings.TrimPrefix(ext, "."),
			Body:  &scratchFile{File: f, dir: dir},
			Size:  info.Size(),
		}, nil
	}
	return nil, ErrNoAudio
}

type scratchFile struct {
	*os.File
	dir string
}

func (s *scratchFile) Close() error {
	err := s.File.Close()
	errutil.LogMsg(os.RemoveAll(s.dir), "Failed to remove yt-dlp work dir", "dir", s.dir)
	return err
}
