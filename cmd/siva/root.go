package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/meigma/siva"
	"github.com/meigma/siva/cache/disk"
	"github.com/meigma/siva/internal/config"
)

// app carries the state shared by every subcommand.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	logger *slog.Logger
	cache  *disk.Cache
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: config.New(), logger: slog.New(slog.DiscardHandler)}
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "siva",
		Short: "Inspect and extract siva files",
		Long: `siva reads siva files: a flat run of file contents followed by an
append-only chain of index blocks.

The default listing reconciles the chain so that every name shows its newest
record and deleted names are hidden. Use ls --complete to see every record.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(a.v, cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(stderr, cfg)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.enforceCacheLimit()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is siva.yaml in standard locations)")
	pf.Bool("debug", false, "enable debug logging")
	pf.String("log-format", "text", "log format (text or json)")
	pf.String("cache-dir", "", "directory used to cache entry content")
	pf.Int64("cache-max-bytes", 0, "prune the cache to this size after each command (0 disables)")
	bindFlags(a.v, pf, map[string]string{
		"debug":           "debug",
		"log_format":      "log-format",
		"cache_dir":       "cache-dir",
		"cache_max_bytes": "cache-max-bytes",
	})

	cmd.AddCommand(
		newLsCmd(a),
		newCatCmd(a),
		newUnpackCmd(a),
		newVerifyCmd(a),
		newExportCmd(a),
		newCacheCmd(a),
	)
	return cmd
}

// bindFlags binds viper keys to the named flags of fs.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %q: %v", name, err))
		}
	}
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) options() ([]siva.Option, error) {
	opts := []siva.Option{
		siva.WithLogger(a.logger),
		siva.WithChecksumChunkSize(a.cfg.ChecksumChunkSize),
		siva.WithMaxEntrySize(a.cfg.MaxEntrySize),
	}
	c, err := a.diskCache()
	if err != nil {
		return nil, err
	}
	if c != nil {
		opts = append(opts, siva.WithCache(c))
	}
	return opts, nil
}

// diskCache opens the configured cache directory once. It returns nil when
// no directory is configured.
func (a *app) diskCache() (*disk.Cache, error) {
	if a.cache != nil || a.cfg.CacheDir == "" {
		return a.cache, nil
	}
	c, err := disk.New(a.cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.cache = c
	return c, nil
}

// enforceCacheLimit prunes a cache used by the command to cache_max_bytes.
func (a *app) enforceCacheLimit() error {
	if a.cache == nil || a.cfg.CacheMaxBytes == 0 {
		return nil
	}
	stats, err := a.cache.Prune(a.cfg.CacheMaxBytes)
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	a.logger.Debug("pruned cache",
		"dir", a.cfg.CacheDir,
		"removed", stats.Removed,
		"freed", stats.Freed,
		"remaining", stats.Remaining)
	return nil
}

// open opens path and reads its filtered index.
func (a *app) open(path string) (*siva.Archive, error) {
	opts, err := a.options()
	if err != nil {
		return nil, err
	}
	return siva.Open(path, opts...)
}

// selectEntries returns the entries of idx matching pattern, or all of them
// when pattern is empty.
func selectEntries(idx *siva.Index, pattern string) ([]*siva.Entry, error) {
	if pattern == "" {
		return idx.Entries(), nil
	}
	return idx.Glob(pattern)
}
