// Package config loads blog-mirror settings from a TOML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("30s", "5m") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type APIConfig struct {
	Root          string   `toml:"root"`
	Authorization string   `toml:"authorization"`
	Branch        string   `toml:"branch"`
	Timeout       Duration `toml:"timeout"`
}

type NLPConfig struct {
	Root          string `toml:"root"`
	Authorization string `toml:"authorization"`
}

type CacheConfig struct {
	Backend string `toml:"backend"` // "memory", "file" or "sqlite"
	Path    string `toml:"path"`    // empty = default location for the backend
	// TreeTTL is how long the transport reuses a fetched tree listing.
	TreeTTL Duration `toml:"tree_ttl"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"; empty picks by terminal
	File   string `toml:"file"`
}

type Config struct {
	API         APIConfig   `toml:"api"`
	NLP         NLPConfig   `toml:"nlp"`
	AssetsRoot  string      `toml:"assets_root"`
	MaxFileSize int64       `toml:"max_file_size"`
	Cache       CacheConfig `toml:"cache"`
	Log         LogConfig   `toml:"log"`
}

// Environment variables that override file settings.
const (
	EnvAPIRoot      = "BLOG_MIRROR_API_ROOT"
	EnvAPIAuth      = "BLOG_MIRROR_API_AUTH"
	EnvNLPRoot      = "BLOG_MIRROR_NLP_ROOT"
	EnvNLPAuth      = "BLOG_MIRROR_NLP_AUTH"
	EnvAssetsRoot   = "BLOG_MIRROR_ASSETS_ROOT"
	EnvCacheBackend = "BLOG_MIRROR_CACHE_BACKEND"
	EnvCachePath    = "BLOG_MIRROR_CACHE_PATH"
	EnvLogLevel     = "BLOG_MIRROR_LOG_LEVEL"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		API: APIConfig{
			Root:    "https://api.github.com/repos/nl253/blog/git",
			Branch:  "master",
			Timeout: Duration{30 * time.Second},
		},
		NLP: NLPConfig{
			Root: "http://localhost:3000",
		},
		MaxFileSize: 1 << 20,
		Cache: CacheConfig{
			Backend: "memory",
			TreeTTL: Duration{5 * time.Minute},
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// DefaultPath returns ~/.config/blog-mirror/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "blog-mirror", "config.toml"), nil
}

// Load reads the config file at path (DefaultPath when empty), applies
// environment overrides and validates the result. A missing file is not an
// error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Default(), fmt.Errorf("failed to read config file: %w", err)
		default:
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return Default(), fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if cfg.Cache.Path != "" {
		expanded, err := expandPath(cfg.Cache.Path)
		if err != nil {
			return Default(), fmt.Errorf("expand cache.path: %w", err)
		}
		cfg.Cache.Path = expanded
	}
	if cfg.Log.File != "" {
		expanded, err := expandPath(cfg.Log.File)
		if err != nil {
			return Default(), fmt.Errorf("expand log.file: %w", err)
		}
		cfg.Log.File = expanded
	}

	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvAPIRoot, &c.API.Root)
	set(EnvAPIAuth, &c.API.Authorization)
	set(EnvNLPRoot, &c.NLP.Root)
	set(EnvNLPAuth, &c.NLP.Authorization)
	set(EnvAssetsRoot, &c.AssetsRoot)
	set(EnvCacheBackend, &c.Cache.Backend)
	set(EnvCachePath, &c.Cache.Path)
	set(EnvLogLevel, &c.Log.Level)
}

// Validate checks URLs, the cache backend and the log settings.
func (c Config) Validate() error {
	if err := validateURL(c.API.Root, "api.root", true); err != nil {
		return err
	}
	if err := validateURL(c.NLP.Root, "nlp.root", true); err != nil {
		return err
	}
	if err := validateURL(c.AssetsRoot, "assets_root", false); err != nil {
		return err
	}
	switch c.Cache.Backend {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("invalid cache.backend %q: must be \"memory\", \"file\" or \"sqlite\"", c.Cache.Backend)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log.format %q: must be \"json\" or \"console\"", c.Log.Format)
	}
	if c.API.Timeout.Duration < 0 || c.Cache.TreeTTL.Duration < 0 {
		return errors.New("durations must not be negative")
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("invalid max_file_size %d", c.MaxFileSize)
	}
	return nil
}

func validateURL(raw, field string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s must be set", field)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got: %q", field, raw)
	}
	return nil
}

func expandPath(path string) (string, error) {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand ~: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	if path == "~" {
		return os.UserHomeDir()
	}
	return path, nil
}
