// Package config loads server configuration from a YAML file with
// environment overrides under the ARBOR_ prefix.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arborfs/arbor/internal/domain"
)

// Config holds all configuration for the arbor server.
type Config struct {
	Addr string `mapstructure:"addr"` // HTTP listen address
	Root string `mapstructure:"root"` // initial tree root, defaults to cwd

	ShowHidden    bool `mapstructure:"show_hidden"`    // default filter for new sessions
	SessionBuffer int  `mapstructure:"session_buffer"` // per-session outbound delta buffer

	Debounce time.Duration `mapstructure:"debounce"` // event coalescing window

	Watcher WatcherConfig `mapstructure:"watcher"`
	Vcs     VcsConfig     `mapstructure:"vcs"`
	Trash   TrashConfig   `mapstructure:"trash"`
	Log     LogConfig     `mapstructure:"log"`
}

// WatcherConfig controls the filesystem watch adapter.
type WatcherConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// VcsConfig controls the version-control status overlay.
type VcsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
	GitBin  string        `mapstructure:"git_bin"`
}

// TrashConfig controls delete routing.
type TrashConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"` // override, defaults to XDG trash
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output"`
}

// DefaultConfigPaths returns the default paths to search for config files.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "arbor"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".arbor"))
	}
	return paths
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":7388")
	v.SetDefault("root", "")
	v.SetDefault("show_hidden", false)
	v.SetDefault("session_buffer", 256)
	v.SetDefault("debounce", 50*time.Millisecond)
	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.retry_delay", time.Second)
	v.SetDefault("watcher.max_retries", 5)
	v.SetDefault("vcs.enabled", true)
	v.SetDefault("vcs.timeout", 5*time.Second)
	v.SetDefault("vcs.git_bin", "git")
	v.SetDefault("trash.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads and parses a configuration file. If path is empty, default
// locations are searched and a missing file falls back to defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARBOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, domain.ErrConfigNotFound
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	} else {
		v.SetConfigName("arbor")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
			}
			// No config file is fine; defaults and env apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.SessionBuffer <= 0 {
		return fmt.Errorf("%w: session_buffer must be positive", domain.ErrConfigInvalid)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("%w: debounce must not be negative", domain.ErrConfigInvalid)
	}
	if c.Vcs.Enabled && c.Vcs.Timeout <= 0 {
		return fmt.Errorf("%w: vcs.timeout must be positive", domain.ErrConfigInvalid)
	}
	if c.Root != "" {
		fi, err := os.Stat(c.Root)
		if err != nil || !fi.IsDir() {
			return fmt.Errorf("%w: root %q is not a directory", domain.ErrConfigInvalid, c.Root)
		}
	}
	return nil
}
