// Package config loads the daemon configuration from TOML through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/tunnelctl/internal/logger"
)

// EnvPrefix is the prefix for environment overrides, e.g. TUNNELCTL_SERVER_LISTEN.
const EnvPrefix = "TUNNELCTL"

type Config struct {
	Log        logger.Settings  `mapstructure:"log"`
	Store      StoreConfig      `mapstructure:"store"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	History    []string         `mapstructure:"history"`
}

type StoreConfig struct {
	DSN   string `mapstructure:"dsn"`
	Watch bool   `mapstructure:"watch"`
}

type SupervisorConfig struct {
	ConfirmDelay   time.Duration `mapstructure:"confirm_delay"`
	Stagger        time.Duration `mapstructure:"stagger"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	TerminateGrace time.Duration `mapstructure:"terminate_grace"`
	ProcessLogDir  string        `mapstructure:"process_log_dir"`
	Env            []string      `mapstructure:"env"`
	EnvFiles       []string      `mapstructure:"env_files"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type NotifyConfig struct {
	Desktop    bool   `mapstructure:"desktop"`
	Log        bool   `mapstructure:"log"`
	WebhookURL string `mapstructure:"webhook_url"`
	Icon       string `mapstructure:"icon"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatColor)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)

	v.SetDefault("store.dsn", DefaultStorePath())
	v.SetDefault("store.watch", true)

	v.SetDefault("supervisor.confirm_delay", "2s")
	v.SetDefault("supervisor.stagger", "1s")
	v.SetDefault("supervisor.poll_interval", "5s")
	v.SetDefault("supervisor.backoff_base", "1s")
	v.SetDefault("supervisor.backoff_max", "30s")
	v.SetDefault("supervisor.terminate_grace", "5s")

	v.SetDefault("server.listen", "127.0.0.1:7070")
	v.SetDefault("server.base_path", "/api")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("notify.desktop", true)
	v.SetDefault("notify.log", true)
}

// DefaultStorePath is profiles.json under the user config directory.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "profiles.json"
	}
	return filepath.Join(dir, "tunnelctl", "profiles.json")
}

// Default returns the configuration used when no file is given.
func Default() Config {
	c, _ := Load("")
	return c
}

// Load reads path (TOML) over the defaults. An empty path uses defaults and
// environment overrides only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values viper cannot check by type alone.
func (c Config) Validate() error {
	s := c.Supervisor
	for name, d := range map[string]time.Duration{
		"confirm_delay":   s.ConfirmDelay,
		"poll_interval":   s.PollInterval,
		"backoff_base":    s.BackoffBase,
		"backoff_max":     s.BackoffMax,
		"terminate_grace": s.TerminateGrace,
	} {
		if d <= 0 {
			return fmt.Errorf("supervisor.%s must be positive, got %s", name, d)
		}
	}
	if s.Stagger < 0 {
		return fmt.Errorf("supervisor.stagger must not be negative, got %s", s.Stagger)
	}
	if s.BackoffMax < s.BackoffBase {
		return fmt.Errorf("supervisor.backoff_max (%s) is below backoff_base (%s)", s.BackoffMax, s.BackoffBase)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ProcessEnv merges env_files in order and then env entries, later keys winning.
// The result is sorted by key.
func (s SupervisorConfig) ProcessEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range s.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range s.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines. Blank lines and # comments are skipped.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
