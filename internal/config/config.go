// Package config loads and validates the seismicd configuration.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/chadmayfield/seismicd/internal/chunk"
)

// Config is the top-level configuration for seismicd.
type Config struct {
	ListenAddr string           `mapstructure:"listen_addr"`
	LogFormat  string           `mapstructure:"log_format"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Source     SourceConfig     `mapstructure:"source"`
	Collection CollectionConfig `mapstructure:"collection"`
	Stations   []StationConfig  `mapstructure:"stations"`
}

// StationConfig defines one channel to collect.
type StationConfig struct {
	Network    string  `mapstructure:"network"`
	Station    string  `mapstructure:"station"`
	Location   string  `mapstructure:"location"`
	Channel    string  `mapstructure:"channel"`
	Volcano    string  `mapstructure:"volcano"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Active     bool    `mapstructure:"active"`
}

// Identity converts the config entry into the immutable station identity
// used everywhere downstream.
func (s StationConfig) Identity() chunk.Station {
	return chunk.Station{
		Network:    s.Network,
		Station:    s.Station,
		Location:   s.Location,
		Channel:    s.Channel,
		Volcano:    s.Volcano,
		SampleRate: s.SampleRate,
	}
}

// StorageConfig defines the object-storage backend.
type StorageConfig struct {
	Driver string   `mapstructure:"driver"` // "s3" or "fs"
	S3     S3Config `mapstructure:"s3"`
	FS     FSConfig `mapstructure:"fs"`
}

// S3Config holds S3-compatible endpoint settings.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// FSConfig holds filesystem storage settings.
type FSConfig struct {
	Path string `mapstructure:"path"`
}

// SourceConfig holds upstream waveform service settings.
type SourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// CollectionConfig defines scheduling behavior.
type CollectionConfig struct {
	// LatencyDelay is subtracted from "now" before quantizing, so windows
	// are only collected once the upstream has had time to assemble them.
	LatencyDelay        time.Duration `mapstructure:"latency_delay"`
	BackfillOnStartup   bool          `mapstructure:"backfill_on_startup"`
	BackfillDepthHours  int           `mapstructure:"backfill_depth_hours"`
	RunlogRetentionDays int           `mapstructure:"runlog_retention_days"`
}

// Load reads configuration from flag path, env vars, then default file paths.
// Precedence: flag → $SEISMICD_CONFIG env → ~/.config/seismicd/config.yaml →
// /etc/seismicd/config.yaml
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_format", "json")
	v.SetDefault("storage.driver", "fs")
	v.SetDefault("collection.latency_delay", "5m")
	v.SetDefault("collection.backfill_on_startup", true)
	v.SetDefault("collection.backfill_depth_hours", 24)
	v.SetDefault("collection.runlog_retention_days", 7)

	// Env var support
	v.SetEnvPrefix("SEISMICD")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if envPath := os.Getenv("SEISMICD_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "seismicd"))
		}
		v.AddConfigPath("/etc/seismicd")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if cfgPath := v.ConfigFileUsed(); cfgPath != "" {
		// Warn if a config file carrying S3 credentials is world-readable.
		if info, err := os.Stat(cfgPath); err == nil {
			perm := info.Mode().Perm()
			if perm&0004 != 0 {
				slog.Warn("config file is world-readable", "path", cfgPath, "permissions", fmt.Sprintf("%04o", perm))
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Inject S3 credentials from env vars. Viper's AutomaticEnv cannot map
	// env vars onto nested struct fields reliably, so handle the secrets
	// explicitly for K8s secret injection.
	if ak := os.Getenv("SEISMICD_S3_ACCESS_KEY"); ak != "" {
		cfg.Storage.S3.AccessKey = ak
	}
	if sk := os.Getenv("SEISMICD_S3_SECRET_KEY"); sk != "" {
		cfg.Storage.S3.SecretKey = sk
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and correct. A config
// failure is the only fatal startup error class.
func (c *Config) Validate() error {
	if len(c.Stations) == 0 {
		return fmt.Errorf("at least one station is required")
	}

	for i, s := range c.Stations {
		if s.Network == "" {
			return fmt.Errorf("station[%d]: network is required", i)
		}
		if s.Station == "" {
			return fmt.Errorf("station[%d]: station is required", i)
		}
		if s.Channel == "" {
			return fmt.Errorf("station[%d]: channel is required", i)
		}
		if s.SampleRate <= 0 {
			return fmt.Errorf("station[%d]: sample_rate must be positive", i)
		}
	}

	switch c.Storage.Driver {
	case "fs":
		if c.Storage.FS.Path == "" {
			return fmt.Errorf("storage.fs.path is required for fs driver")
		}
	case "s3":
		if c.Storage.S3.Endpoint == "" {
			return fmt.Errorf("storage.s3.endpoint is required for s3 driver")
		}
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for s3 driver")
		}
	default:
		return fmt.Errorf("storage.driver must be 'fs' or 's3', got %q", c.Storage.Driver)
	}

	if c.Collection.LatencyDelay < 0 {
		return fmt.Errorf("collection.latency_delay must not be negative")
	}
	if c.Collection.BackfillDepthHours < 0 {
		return fmt.Errorf("collection.backfill_depth_hours must not be negative")
	}

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not a valid address: %w", c.ListenAddr, err)
	}

	return nil
}

// ActiveStations returns the identities of stations marked active.
func (c *Config) ActiveStations() []chunk.Station {
	var out []chunk.Station
	for _, s := range c.Stations {
		if s.Active {
			out = append(out, s.Identity())
		}
	}
	return out
}
