// Package config loads docgrove settings from defaults, an optional YAML
// file, and DOCGROVE_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/docgrove/internal/kv"
	"github.com/roach88/docgrove/internal/query"
)

// EnvPrefix is the prefix of environment overrides: DOCGROVE_QUERY_MAX_LIMIT
// sets query.max_limit.
const EnvPrefix = "DOCGROVE"

// Config is the full docgrove configuration.
type Config struct {
	Query   QueryConfig   `mapstructure:"query"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// QueryConfig bounds document queries.
type QueryConfig struct {
	DefaultLimit       int `mapstructure:"default_limit"`
	MaxLimit           int `mapstructure:"max_limit"`
	MaxIndexDifference int `mapstructure:"max_index_difference"`
	MaxInValues        int `mapstructure:"max_in_values"`
}

// StoreConfig selects the KV backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MetricsConfig toggles Prometheus collection.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ValidationError reports an invalid setting.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func setDefaults(v *viper.Viper) {
	q := query.DefaultConfig()
	v.SetDefault("query.default_limit", int(q.DefaultLimit))
	v.SetDefault("query.max_limit", int(q.MaxLimit))
	v.SetDefault("query.max_index_difference", q.MaxIndexDifference)
	v.SetDefault("query.max_in_values", q.MaxInValues)
	v.SetDefault("store.backend", string(kv.KindMemory))
	v.SetDefault("store.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.enabled", true)
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// defaults always decode
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads the configuration. An empty path skips the file layer; a
// missing named file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the limits and the backend.
func (c *Config) Validate() error {
	q := c.Query
	switch {
	case q.MaxLimit <= 0 || q.MaxLimit > math.MaxUint16:
		return &ValidationError{Key: "query.max_limit", Message: fmt.Sprintf("must be in 1..%d, got %d", math.MaxUint16, q.MaxLimit)}
	case q.DefaultLimit <= 0 || q.DefaultLimit > q.MaxLimit:
		return &ValidationError{Key: "query.default_limit", Message: fmt.Sprintf("must be in 1..max_limit (%d), got %d", q.MaxLimit, q.DefaultLimit)}
	case q.MaxIndexDifference < 0:
		return &ValidationError{Key: "query.max_index_difference", Message: "must not be negative"}
	case q.MaxInValues <= 0:
		return &ValidationError{Key: "query.max_in_values", Message: "must be positive"}
	}

	switch kv.Kind(c.Store.Backend) {
	case kv.KindMemory:
	case kv.KindBadger, kv.KindSQLite:
		if c.Store.Path == "" {
			return &ValidationError{Key: "store.path", Message: fmt.Sprintf("required for the %s backend", c.Store.Backend)}
		}
	default:
		return &ValidationError{Key: "store.backend", Message: fmt.Sprintf("unknown backend %q", c.Store.Backend)}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return &ValidationError{Key: "log.level", Message: err.Error()}
	}
	return nil
}

// QueryConfig converts the query settings for compilation.
func (c *Config) QueryConfig() query.Config {
	return query.Config{
		DefaultLimit:       uint16(c.Query.DefaultLimit),
		MaxLimit:           uint16(c.Query.MaxLimit),
		MaxIndexDifference: c.Query.MaxIndexDifference,
		MaxInValues:        c.Query.MaxInValues,
	}
}

// SlogLevel parses the level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", l.Level)
	}
	return lvl, nil
}
