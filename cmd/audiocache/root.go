package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/audiocache/internal/app"
	"github.com/lucasew/audiocache/internal/errutil"
	"github.com/lucasew/audiocache/internal/eviction"
	"github.com/lucasew/audiocache/internal/httpclient"
	"github.com/lucasew/audiocache/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "audiocache",
	Short: "A disk-quota-bounded audio download cache",
	Long: `audiocache downloads the audio behind a link into a media directory and
serves it back, evicting the oldest files whenever the volume runs low on space.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(viper.GetString("log-level"), viper.GetString("log-format"))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (yaml, toml or json)")
	flags.String("media-dir", "./media", "Directory holding the downloaded audio")
	flags.String("db-path", "", "Catalog database path (default audiocache.db next to the media dir)")
	flags.String("min-free-space", humanize.IBytes(uint64(eviction.DefaultMinFreeBytes)), "Evict when free space drops below this size")
	flags.Int("retain-count", eviction.DefaultRetainCount, "Number of newest files kept by an eviction pass")
	flags.String("max-cache-size", "0", "Also evict when the media files exceed this size (0 disables)")
	flags.String("eviction-strategy", eviction.DefaultStrategy, "Eviction strategy ("+strings.Join(eviction.Strategies(), ", ")+")")
	flags.Duration("http-timeout", httpclient.DefaultTimeout, "Timeout for direct downloads")
	flags.Bool("ytdlp-install", false, "Download a yt-dlp binary when none is on PATH")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, logfmt, json)")

	for _, name := range []string{
		"media-dir", "db-path", "min-free-space", "retain-count", "max-cache-size",
		"eviction-strategy", "http-timeout", "ytdlp-install", "log-level", "log-format",
	} {
		mustBindPFlag(name, flags.Lookup(name))
	}
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q: %v", key, err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("AUDIOCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cfgFile, err := rootCmd.PersistentFlags().GetString("config")
	errutil.LogMsg(err, "Failed to get config flag")
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		errutil.ReportError(err, "Failed to read config file", "path", cfgFile)
		os.Exit(1)
	}
}

// loadConfig builds the app config from flags, environment and config file.
func loadConfig() (app.Config, error) {
	minFree, err := parseSize("min-free-space")
	if err != nil {
		return app.Config{}, err
	}
	maxSize, err := parseSize("max-cache-size")
	if err != nil {
		return app.Config{}, err
	}
	return app.Config{
		Port:             viper.GetInt("port"),
		BaseURL:          viper.GetString("base-url"),
		MediaDir:         viper.GetString("media-dir"),
		DBPath:           viper.GetString("db-path"),
		MinFreeSpace:     minFree,
		RetainCount:      viper.GetInt("retain-count"),
		MaxCacheSize:     maxSize,
		EvictionInterval: viper.GetDuration("eviction-interval"),
		EvictionStrategy: viper.GetString("eviction-strategy"),
		YTDLPInstall:     viper.GetBool("ytdlp-install"),
		HTTPTimeout:      viper.GetDuration("http-timeout"),
	}, nil
}

// parseSize reads a byte size such as "30GiB" or "500MB".
func parseSize(key string) (int64, error) {
	raw := viper.GetString(key)
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if n > uint64(1<<63-1) {
		return 0, fmt.Errorf("invalid %s %q: too large", key, raw)
	}
	return int64(n), nil
}

// openComponents is the common prologue of the commands working on the volume.
func openComponents(cmd *cobra.Command) (*app.Components, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Open(cmd.Context(), cfg)
}
