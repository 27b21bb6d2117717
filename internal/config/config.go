// Package config loads ~/.textile/config.toml.
//
// Reading goes through viper so every key has a default and can be
// overridden from the environment (TEXTILE_IMPORT_CHUNK_SIZE and so on).
// Writing uses the toml encoder directly so the file keeps a stable layout.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/matheus3301/textile/internal/policy"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "TEXTILE"

// Config is the global configuration.
type Config struct {
	DefaultProfile string         `toml:"default_profile" mapstructure:"default_profile"`
	Import         ImportConfig   `toml:"import" mapstructure:"import"`
	Limits         LimitsConfig   `toml:"limits" mapstructure:"limits"`
	Classify       ClassifyConfig `toml:"classify" mapstructure:"classify"`
	Alert          AlertConfig    `toml:"alert" mapstructure:"alert"`
	Log            LogConfig      `toml:"log" mapstructure:"log"`
}

// ImportConfig tunes the importer and the rewrite commands.
type ImportConfig struct {
	ChunkSize    int      `toml:"chunk_size" mapstructure:"chunk_size"`
	ChunkDelay   Duration `toml:"chunk_delay" mapstructure:"chunk_delay"`
	SplitSize    int      `toml:"split_size" mapstructure:"split_size"`
	TruncateKeep int      `toml:"truncate_keep" mapstructure:"truncate_keep"`
}

// LimitsConfig holds the size tiers in megabytes.
type LimitsConfig struct {
	DirectMB   int64 `toml:"direct_mb" mapstructure:"direct_mb"`
	ChunkedMB  int64 `toml:"chunked_mb" mapstructure:"chunked_mb"`
	SplitMB    int64 `toml:"split_mb" mapstructure:"split_mb"`
	InMemoryMB int64 `toml:"in_memory_mb" mapstructure:"in_memory_mb"`
	RiskyMB    int64 `toml:"risky_mb" mapstructure:"risky_mb"`
}

// Policy converts the tiers to byte limits.
func (l LimitsConfig) Policy() policy.Limits {
	return policy.Limits{
		DirectMax:   l.DirectMB * policy.MB,
		ChunkedMax:  l.ChunkedMB * policy.MB,
		SplitMax:    l.SplitMB * policy.MB,
		InMemoryMax: l.InMemoryMB * policy.MB,
		RiskyFrom:   l.RiskyMB * policy.MB,
	}
}

// ClassifyConfig tunes the classifier.
type ClassifyConfig struct {
	OTPExpiry Duration `toml:"otp_expiry" mapstructure:"otp_expiry"`
}

// AlertConfig tunes the urgent-message scanner.
type AlertConfig struct {
	Interval Duration `toml:"interval" mapstructure:"interval"`
	Lookback Duration `toml:"lookback" mapstructure:"lookback"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Import: ImportConfig{
			ChunkSize:    1000,
			ChunkDelay:   Duration(50 * time.Millisecond),
			SplitSize:    5000,
			TruncateKeep: 10000,
		},
		Limits: LimitsConfig{
			DirectMB:   10,
			ChunkedMB:  50,
			SplitMB:    100,
			InMemoryMB: 50,
			RiskyMB:    30,
		},
		Classify: ClassifyConfig{OTPExpiry: Duration(10 * time.Minute)},
		Alert: AlertConfig{
			Interval: Duration(12 * time.Hour),
			Lookback: Duration(7 * 24 * time.Hour),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the config at path over the defaults, then applies
// TEXTILE_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("default_profile", d.DefaultProfile)
	v.SetDefault("import.chunk_size", d.Import.ChunkSize)
	v.SetDefault("import.chunk_delay", d.Import.ChunkDelay.String())
	v.SetDefault("import.split_size", d.Import.SplitSize)
	v.SetDefault("import.truncate_keep", d.Import.TruncateKeep)
	v.SetDefault("limits.direct_mb", d.Limits.DirectMB)
	v.SetDefault("limits.chunked_mb", d.Limits.ChunkedMB)
	v.SetDefault("limits.split_mb", d.Limits.SplitMB)
	v.SetDefault("limits.in_memory_mb", d.Limits.InMemoryMB)
	v.SetDefault("limits.risky_mb", d.Limits.RiskyMB)
	v.SetDefault("classify.otp_expiry", d.Classify.OTPExpiry.String())
	v.SetDefault("alert.interval", d.Alert.Interval.String())
	v.SetDefault("alert.lookback", d.Alert.Lookback.String())
	v.SetDefault("log.level", d.Log.Level)
}

// Validate rejects values the importer cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Import.ChunkSize <= 0:
		return fmt.Errorf("config: import.chunk_size must be positive, got %d", c.Import.ChunkSize)
	case c.Import.ChunkDelay < 0:
		return fmt.Errorf("config: import.chunk_delay must not be negative")
	case c.Import.SplitSize <= 0:
		return fmt.Errorf("config: import.split_size must be positive, got %d", c.Import.SplitSize)
	case c.Import.TruncateKeep <= 0:
		return fmt.Errorf("config: import.truncate_keep must be positive, got %d", c.Import.TruncateKeep)
	}
	l := c.Limits
	if !(0 < l.DirectMB && l.DirectMB <= l.ChunkedMB && l.ChunkedMB <= l.SplitMB) {
		return fmt.Errorf("config: limits must satisfy 0 < direct_mb <= chunked_mb <= split_mb")
	}
	if !(0 < l.RiskyMB && l.RiskyMB <= l.InMemoryMB) {
		return fmt.Errorf("config: limits must satisfy 0 < risky_mb <= in_memory_mb")
	}
	if c.Alert.Interval <= 0 {
		return fmt.Errorf("config: alert.interval must be positive")
	}
	return nil
}

// Save writes cfg to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
