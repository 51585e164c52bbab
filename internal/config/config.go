// Package config loads viewer settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides. File values lose to these.
const (
	EnvConfig         = "MANGAVIEW_CONFIG"
	EnvLogLevel       = "MANGAVIEW_LOG_LEVEL"
	EnvLogFile        = "MANGAVIEW_LOG_FILE"
	EnvWorkers        = "MANGAVIEW_WORKERS"
	EnvLookahead      = "MANGAVIEW_LOOKAHEAD"
	EnvHeaderCharset  = "MANGAVIEW_HEADER_CHARSET"
	EnvDimensionCache = "MANGAVIEW_DIMENSION_CACHE"
	EnvMaxImageBytes  = "MANGAVIEW_MAX_IMAGE_BYTES"
	EnvMinFreeBytes   = "MANGAVIEW_MIN_FREE_BYTES"
)

// MaxWorkers bounds the batch decode pool.
const MaxWorkers = 4

// Limits groups the safety ceilings of the archive core.
type Limits struct {
	MaxImageBytes    uint64 `yaml:"max_image_bytes"`
	MinFreeBytes     uint64 `yaml:"min_free_bytes"`
	MaxEntryBytes    int64  `yaml:"max_entry_bytes"`
	MaxWebPFileBytes int64  `yaml:"max_webp_file_bytes"`
	MaxFolderDepth   int    `yaml:"max_folder_depth"`
	MaxInternalPath  int    `yaml:"max_internal_path"`
}

type Config struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	Workers        int    `yaml:"workers"`
	Lookahead      int    `yaml:"lookahead"`
	HeaderCharset  string `yaml:"header_charset"`
	DimensionCache int    `yaml:"dimension_cache"`
	Limits         Limits `yaml:"limits"`
}

func Default() Config {
	return Config{
		LogLevel:       "info",
		Workers:        MaxWorkers,
		Lookahead:      2,
		HeaderCharset:  "utf-8",
		DimensionCache: 256,
		Limits: Limits{
			MaxImageBytes:    200 << 20,
			MinFreeBytes:     500 << 20,
			MaxEntryBytes:    500 << 20,
			MaxWebPFileBytes: 100 * 1000 * 1000,
			MaxFolderDepth:   5,
			MaxInternalPath:  150,
		},
	}
}

// Load starts from Default, merges the YAML file at path when path is not
// empty, then applies environment overrides. An empty path falls back to
// MANGAVIEW_CONFIG.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := stringFromEnv(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := stringFromEnv(EnvLogFile); ok {
		c.LogFile = v
	}
	if v, ok := stringFromEnv(EnvHeaderCharset); ok {
		c.HeaderCharset = v
	}
	if v, ok := intFromEnv(EnvWorkers); ok {
		c.Workers = v
	}
	if v, ok := intFromEnv(EnvLookahead); ok {
		c.Lookahead = v
	}
	if v, ok := intFromEnv(EnvDimensionCache); ok {
		c.DimensionCache = v
	}
	if v, ok := uint64FromEnv(EnvMaxImageBytes); ok {
		c.Limits.MaxImageBytes = v
	}
	if v, ok := uint64FromEnv(EnvMinFreeBytes); ok {
		c.Limits.MinFreeBytes = v
	}
}

// Validate rejects unusable values and clamps Workers to MaxWorkers.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Workers > MaxWorkers {
		c.Workers = MaxWorkers
	}
	if c.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("lookahead must not be negative, got %d", c.Lookahead))
	}
	if c.DimensionCache <= 0 {
		errs = append(errs, fmt.Errorf("dimension_cache must be positive, got %d", c.DimensionCache))
	}
	l := c.Limits
	if l.MaxImageBytes == 0 || l.MaxEntryBytes <= 0 || l.MaxWebPFileBytes <= 0 {
		errs = append(errs, errors.New("byte limits must be positive"))
	}
	if l.MaxFolderDepth <= 0 || l.MaxInternalPath <= 0 {
		errs = append(errs, errors.New("structure limits must be positive"))
	}
	return errors.Join(errs...)
}

func stringFromEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func intFromEnv(key string) (int, bool) {
	v, ok := stringFromEnv(key)
	if !ok {
		return 0, false
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return x, true
}

func uint64FromEnv(key string) (uint64, bool) {
	v, ok := stringFromEnv(key)
	if !ok {
		return 0, false
	}
	x, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return x, true
}
