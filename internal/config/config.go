// Package config loads settings for the siva command.
//
// Settings come from, in increasing precedence: defaults, an optional YAML
// file, SIVA_* environment variables and command line flags bound to the
// viper instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name used for config files and directories.
	AppName = "siva"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "SIVA"
)

// Config holds the settings of the siva command.
type Config struct {
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`

	// Reader settings
	ChecksumChunkSize int    `mapstructure:"checksum_chunk_size"`
	MaxEntrySize      uint64 `mapstructure:"max_entry_size"`
	CacheDir          string `mapstructure:"cache_dir"`
	CacheMaxBytes     int64  `mapstructure:"cache_max_bytes"`

	Unpack struct {
		Overwrite       bool `mapstructure:"overwrite"`
		PreserveMode    bool `mapstructure:"preserve_mode"`
		PreserveTimes   bool `mapstructure:"preserve_times"`
		Workers         int  `mapstructure:"workers"`
		ReadConcurrency int  `mapstructure:"read_concurrency"`
	} `mapstructure:"unpack"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "text")
	v.SetDefault("checksum_chunk_size", 1<<20)
	v.SetDefault("max_entry_size", 256<<20)
	v.SetDefault("cache_dir", "")
	v.SetDefault("cache_max_bytes", 0)
	v.SetDefault("unpack.overwrite", false)
	v.SetDefault("unpack.preserve_mode", true)
	v.SetDefault("unpack.preserve_times", true)
	v.SetDefault("unpack.workers", 0)
	v.SetDefault("unpack.read_concurrency", 4)
}

// Load reads cfgFile, or siva.yaml from the standard locations when cfgFile
// is empty, and decodes the merged settings. A missing default file is not an
// error; a missing explicit file is.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		addSearchPaths(v)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: want text or json", c.LogFormat)
	}
	if c.CacheMaxBytes < 0 {
		return fmt.Errorf("invalid cache size limit %d", c.CacheMaxBytes)
	}
	if c.ChecksumChunkSize < 0 {
		return fmt.Errorf("invalid checksum chunk size %d", c.ChecksumChunkSize)
	}
	return nil
}

func addSearchPaths(v *viper.Viper) {
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, AppName))
	}
}
