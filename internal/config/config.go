// Package config loads cmdb configuration from a file, the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yairfalse/cmdb/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. CMDB_DATABASE_HOST.
const EnvPrefix = "CMDB"

// Account types.
const (
	TypeAWS     = "aws"
	TypeAlibaba = "alibaba"
)

// Config is the root configuration structure.
type Config struct {
	Accounts []AccountConfig `mapstructure:"accounts"`
	Database store.Config    `mapstructure:"database"`
	Crawl    CrawlConfig     `mapstructure:"crawl"`
	Archive  ArchiveConfig   `mapstructure:"archive"`
	OTEL     OTELConfig      `mapstructure:"otel"`
	Log      LogConfig       `mapstructure:"log"`
	Daemon   DaemonConfig    `mapstructure:"daemon"`
}

// AccountConfig describes one cloud account to crawl.
type AccountConfig struct {
	Type string `mapstructure:"type"`
	Name string `mapstructure:"name"`

	// AWS uses the default credential chain unless keys or a profile are set.
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	SessionToken    string `mapstructure:"session_token"`

	OrgAccessKeyID     string `mapstructure:"org_access_key_id"`
	OrgAccessKeySecret string `mapstructure:"org_access_key_secret"`

	HomeRegion  string   `mapstructure:"home_region"`
	Regions     []string `mapstructure:"regions"`
	Concurrency int      `mapstructure:"concurrency"`
}

// CrawlConfig holds settings shared by every adapter.
type CrawlConfig struct {
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	ErrorDir           string        `mapstructure:"error_dir"`
	SoftDelete         bool          `mapstructure:"soft_delete"`
	StoppedSinceLookup bool          `mapstructure:"stopped_since_lookup"`
}

// ArchiveConfig holds crawl history settings.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Keep    int64  `mapstructure:"keep"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Insecure    bool          `mapstructure:"insecure"`
	ServiceName string        `mapstructure:"service_name"`
	Traces      TracesConfig  `mapstructure:"traces"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Prometheus bool `mapstructure:"prometheus"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DaemonConfig holds settings of the long running mode.
type DaemonConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

// Load reads the config file at path, if any, then applies .env and
// CMDB_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", store.DriverMySQL)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "cmdb")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "cmdb")
	v.SetDefault("database.path", "cmdb.sqlite")
	v.SetDefault("database.timeout", "30s")

	v.SetDefault("crawl.retry_attempts", 5)
	v.SetDefault("crawl.retry_delay", "5s")
	v.SetDefault("crawl.requests_per_second", 0)
	v.SetDefault("crawl.error_dir", ".")
	v.SetDefault("crawl.soft_delete", false)
	v.SetDefault("crawl.stopped_since_lookup", false)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "cmdb-history.db")
	v.SetDefault("archive.keep", 0)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.service_name", "cmdb")
	v.SetDefault("otel.traces.enabled", false)
	v.SetDefault("otel.traces.sample_rate", 1.0)
	v.SetDefault("otel.metrics.enabled", false)
	v.SetDefault("otel.metrics.prometheus", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("daemon.interval", "1h")
	v.SetDefault("daemon.metrics_addr", ":9090")
}

func applyDefaults(cfg *Config) {
	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		acc.Type = strings.ToLower(acc.Type)
		if acc.Name == "" {
			acc.Name = acc.Type
		}
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Accounts) == 0 {
		errs = append(errs, errors.New("accounts: at least one account required"))
	}
	seen := make(map[string]bool)
	for i, acc := range c.Accounts {
		if seen[acc.Name] {
			errs = append(errs, fmt.Errorf("accounts[%d]: duplicate name %q", i, acc.Name))
		}
		seen[acc.Name] = true

		switch acc.Type {
		case TypeAWS:
			if (acc.AccessKeyID == "") != (acc.AccessKeySecret == "") {
				errs = append(errs, fmt.Errorf("accounts[%d]: access_key_id and access_key_secret must be set together", i))
			}
		case TypeAlibaba:
			if acc.AccessKeyID == "" || acc.AccessKeySecret == "" {
				errs = append(errs, fmt.Errorf("accounts[%d]: alibaba requires access_key_id and access_key_secret", i))
			}
		default:
			errs = append(errs, fmt.Errorf("accounts[%d]: unknown type %q", i, acc.Type))
		}
		if acc.Concurrency < 0 {
			errs = append(errs, fmt.Errorf("accounts[%d]: concurrency must not be negative", i))
		}
	}

	switch c.Database.Driver {
	case store.DriverMySQL:
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("database: host and name required"))
		}
	case store.DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database: path required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database: unknown driver %q", c.Database.Driver))
	}

	if c.Crawl.RetryAttempts < 1 {
		errs = append(errs, errors.New("crawl: retry_attempts must be at least 1"))
	}
	if c.Crawl.RetryDelay < 0 {
		errs = append(errs, errors.New("crawl: retry_delay must not be negative"))
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		errs = append(errs, fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate))
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		errs = append(errs, errors.New("archive: path required when enabled"))
	}
	if c.Daemon.Interval <= 0 {
		errs = append(errs, errors.New("daemon: interval must be positive"))
	}

	return errors.Join(errs...)
}
