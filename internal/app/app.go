package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/audiocache/internal/db"
	"github.com/lucasew/audiocache/internal/errutil"
	"github.com/lucasew/audiocache/internal/eviction"
	_ "github.com/lucasew/audiocache/internal/eviction/oldest"
	"github.com/lucasew/audiocache/internal/fetcher"
	"github.com/lucasew/audiocache/internal/httpclient"
	"github.com/lucasew/audiocache/internal/pipeline"
	"github.com/lucasew/audiocache/internal/repository"
)

type Config struct {
	Port    int
	BaseURL string
	// MediaDir is the volume holding the artifacts. Every regular file in it
	// is an eviction candidate.
	MediaDir string
	// DBPath must live outside MediaDir. Defaults to audiocache.db next to it.
	DBPath           string
	MinFreeSpace     int64
	RetainCount      int
	MaxCacheSize     int64
	EvictionInterval time.Duration
	EvictionStrategy string
	YTDLPInstall     bool
	HTTPTimeout      time.Duration
}

// Volume returns the eviction volume described by the config.
func (c Config) Volume() eviction.Volume {
	return eviction.Volume{
		Path:         c.MediaDir,
		MinFreeBytes: c.MinFreeSpace,
		RetainCount:  c.RetainCount,
		MaxBytes:     c.MaxCacheSize,
	}
}

func (c Config) dbPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, nil
	}
	abs, err := filepath.Abs(c.MediaDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(abs), "audiocache.db"), nil
}

// Components is the wired object graph shared by the server and the CLI.
type Components struct {
	Repo     *repository.LocalRepository
	DB       *db.DB
	Manager  *eviction.Manager
	Pipeline *pipeline.Pipeline
}

// Close releases the catalog.
func (c *Components) Close() {
	errutil.LogMsg(c.DB.Close(), "Failed to close database")
}

// Open validates cfg and wires every component.
func Open(ctx context.Context, cfg Config) (*Components, error) {
	volume := cfg.Volume()
	if err := volume.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.MediaDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}

	dbPath, err := cfg.dbPath()
	if err != nil {
		return nil, err
	}
	if inside, err := within(dbPath, cfg.MediaDir); err != nil {
		return nil, err
	} else if inside {
		return nil, fmt.Errorf("database %s must not live inside the media dir %s", dbPath, cfg.MediaDir)
	}

	strat, err := eviction.GetStrategy(cfg.EvictionStrategy)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize eviction strategy: %w", err)
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
	}

	repo := repository.NewLocalRepository(cfg.MediaDir)
	mgr := eviction.NewManager(volume, repo, strat, cfg.EvictionInterval)
	mgr.AddObserver(database)

	slog.Info("Eviction configured",
		"dir", cfg.MediaDir,
		"min_free", humanize.IBytes(uint64(cfg.MinFreeSpace)),
		"retain", cfg.RetainCount,
		"max_size", humanize.IBytes(uint64(cfg.MaxCacheSize)),
		"strategy", cfg.EvictionStrategy,
	)

	if cfg.YTDLPInstall {
		if err := fetcher.InstallYTDLP(ctx); err != nil {
			errutil.LogMsg(err, "Failed to install yt-dlp, relying on PATH")
		}
	}

	client := httpclient.NewClient(cfg.HTTPTimeout)
	service := fetcher.NewService(
		fetcher.NewYTDLPExtractor(""),
		fetcher.NewDirectExtractor(client),
	)

	return &Components{
		Repo:    repo,
		DB:      database,
		Manager: mgr,
		Pipeline: &pipeline.Pipeline{
			Repo:    repo,
			Fetcher: service,
			Catalog: database,
			Evictor: mgr,
		},
	}, nil
}

// within reports whether path is dir or below it.
func within(path, dir string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false, nil
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))), nil
}
