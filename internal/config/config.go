package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"competitor/scraper/internal/domain"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Origins   []domain.Origin `mapstructure:"origins"`
}

// ServerConfig holds the task API listener settings
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ScraperConfig tunes how a crawl task walks its origins
type ScraperConfig struct {
	MaxConcurrentOrigins int           `mapstructure:"max_concurrent_origins"`
	MaxPages             int           `mapstructure:"max_pages"`
	RelevanceFloor       float64       `mapstructure:"relevance_floor"`
	RelaxedPass          bool          `mapstructure:"relaxed_pass"`
	DefaultMinPerOrigin  int           `mapstructure:"default_min_per_origin"`
	MaxOriginWait        time.Duration `mapstructure:"max_origin_wait"`
	BucketCapacityFactor float64       `mapstructure:"bucket_capacity_factor"`
	TaskRetention        time.Duration `mapstructure:"task_retention"`
}

type DelayConfig struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// SchedulerConfig holds origin health thresholds and politeness delays
type SchedulerConfig struct {
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	Cooldown               time.Duration `mapstructure:"cooldown"`
	RequestDelay           DelayConfig   `mapstructure:"request_delay"`
	SwitchDelay            DelayConfig   `mapstructure:"switch_delay"`
	FailureDelay           DelayConfig   `mapstructure:"failure_delay"`
}

// FetchConfig holds HTTP client settings
type FetchConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxRequestsPerSecond int           `mapstructure:"max_requests_per_second"`
	InsecureSkipVerify   bool          `mapstructure:"insecure_skip_verify"`
}

// ProxyConfig lists outbound proxies and whether to check them at startup
type ProxyConfig struct {
	URLs     []string      `mapstructure:"urls"`
	Validate bool          `mapstructure:"validate"`
	TestURL  string        `mapstructure:"test_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects the persistence backend: memory, postgres or redis
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// RedisConfig holds Redis connection details
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	Database  int    `mapstructure:"database"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// With the redis backend, run lifecycle events go to a capped stream
	StreamMaxLen int64 `mapstructure:"stream_max_len"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LogConfig controls logrus output and optional file rotation
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads CONFIG_FILE, or config.yaml from the working directory, with environment overrides
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom reads the given file. An empty path searches the working directory for config.yaml.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config.yaml file not found in current directory")
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the scraper cannot run with
func (c *Config) Validate() error {
	if len(c.Origins) == 0 {
		return errors.New("config: at least one origin is required")
	}

	seen := make(map[string]struct{}, len(c.Origins))
	for i, o := range c.Origins {
		if o.Name == "" {
			return fmt.Errorf("config: origin #%d has no name", i)
		}
		if _, dup := seen[o.Name]; dup {
			return fmt.Errorf("config: duplicate origin %q", o.Name)
		}
		seen[o.Name] = struct{}{}

		if !strings.HasPrefix(o.BaseURL, "http://") && !strings.HasPrefix(o.BaseURL, "https://") {
			return fmt.Errorf("config: origin %q has invalid base_url %q", o.Name, o.BaseURL)
		}
		if o.RequestsPerSecond < 0 {
			return fmt.Errorf("config: origin %q has negative requests_per_second", o.Name)
		}
		switch o.Platform {
		case domain.PlatformUnknown, domain.PlatformShopify, domain.PlatformWooCommerce:
		default:
			return fmt.Errorf("config: origin %q has unknown platform %q", o.Name, o.Platform)
		}
	}

	if c.Scraper.MaxConcurrentOrigins < 1 {
		return errors.New("config: scraper.max_concurrent_origins must be at least 1")
	}
	if c.Scraper.MaxPages < 1 {
		return errors.New("config: scraper.max_pages must be at least 1")
	}
	if c.Scraper.RelevanceFloor < 0 || c.Scraper.RelevanceFloor > 1 {
		return errors.New("config: scraper.relevance_floor must be within [0, 1]")
	}
	if c.Scheduler.MaxConsecutiveFailures < 1 {
		return errors.New("config: scheduler.max_consecutive_failures must be at least 1")
	}

	for name, d := range map[string]DelayConfig{
		"request_delay": c.Scheduler.RequestDelay,
		"switch_delay":  c.Scheduler.SwitchDelay,
		"failure_delay": c.Scheduler.FailureDelay,
	} {
		if d.Min < 0 || d.Max < d.Min {
			return fmt.Errorf("config: scheduler.%s must satisfy 0 <= min <= max", name)
		}
	}

	switch c.Storage.Backend {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("scraper.max_concurrent_origins", 3)
	v.SetDefault("scraper.max_pages", 12)
	v.SetDefault("scraper.relevance_floor", 0.1)
	v.SetDefault("scraper.relaxed_pass", true)
	v.SetDefault("scraper.default_min_per_origin", 15)
	v.SetDefault("scraper.max_origin_wait", 5*time.Minute)
	v.SetDefault("scraper.bucket_capacity_factor", 2.0)
	v.SetDefault("scraper.task_retention", time.Hour)

	v.SetDefault("scheduler.max_consecutive_failures", 3)
	v.SetDefault("scheduler.cooldown", 30*time.Minute)
	v.SetDefault("scheduler.request_delay.min", 2*time.Second)
	v.SetDefault("scheduler.request_delay.max", 5*time.Second)
	v.SetDefault("scheduler.switch_delay.min", 10*time.Second)
	v.SetDefault("scheduler.switch_delay.max", 20*time.Second)
	v.SetDefault("scheduler.failure_delay.min", 30*time.Second)
	v.SetDefault("scheduler.failure_delay.max", 60*time.Second)

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_requests_per_second", 0)
	v.SetDefault("fetch.insecure_skip_verify", false)

	v.SetDefault("proxy.validate", false)
	v.SetDefault("proxy.test_url", "https://httpbin.org/ip")
	v.SetDefault("proxy.timeout", 10*time.Second)

	v.SetDefault("storage.backend", "memory")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "scraper")
	v.SetDefault("database.user", "scraper_user")
	v.SetDefault("database.password", "scraper_pass")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.key_prefix", "scraper:")
	v.SetDefault("redis.stream_max_len", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
}
