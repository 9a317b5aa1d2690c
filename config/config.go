package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // site timezone must resolve in minimal containers

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that cannot run a refresh cycle.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Database DatabaseConfig `yaml:"database"`
	Push     PushConfig     `yaml:"push"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Log      LogConfig      `yaml:"log"`
	Debug    DebugConfig    `yaml:"debug"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
	// ReserveURL is opened when the user taps a notification.
	ReserveURL string `yaml:"reserve_url"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port             int      `yaml:"port"`
	RateLimitPerSec  float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst   int      `yaml:"rate_limit_burst"`
	CacheTTLSeconds  int      `yaml:"cache_ttl_seconds"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// ScraperConfig holds the reservation-site crawler configuration.
type ScraperConfig struct {
	Enabled               bool              `yaml:"enabled"`
	IntervalSeconds       int               `yaml:"interval_seconds"`
	Interval              time.Duration     `yaml:"-"`
	HTTPProxy             string            `yaml:"http_proxy"`
	Timezone              string            `yaml:"timezone"`
	Headers               map[string]string `yaml:"headers"`
	MaxInFlight           int               `yaml:"max_in_flight"`
	RequestsPerSec        float64           `yaml:"requests_per_sec"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds"`
	RequestTimeout        time.Duration     `yaml:"-"`
	Listing               ListingRequest    `yaml:"listing"`
	Times                 TimesRequest      `yaml:"times"`
}

// ListingRequest describes the paginated facility listing page.
type ListingRequest struct {
	URL      string            `yaml:"url"`
	Params   map[string]string `yaml:"params"`
	PageSize int               `yaml:"page_size"`
	// MaxPages caps the page count read from the listing's paging links.
	MaxPages int `yaml:"max_pages"`
}

// TimesRequest describes the per-date open slot endpoint.
type TimesRequest struct {
	URL string `yaml:"url"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// CleanupConfig controls the stale-record sweep run before every cycle.
type CleanupConfig struct {
	SentRetentionHours int           `yaml:"sent_retention_hours"`
	SentRetention      time.Duration `yaml:"-"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DebugConfig holds the slots injected by the manual test flag on /refresh.
type DebugConfig struct {
	TestFacilityID string   `yaml:"test_facility_id"`
	TestDate       string   `yaml:"test_date"`
	TestTimes      []string `yaml:"test_times"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	cfg.ApplyDefaults()
	return &cfg, nil
}

// applyEnv lets secrets live outside the YAML file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.PublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
}

// ApplyDefaults fills zero values and derives durations.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.Scraper.IntervalSeconds <= 0 {
		cfg.Scraper.IntervalSeconds = 300
	}
	cfg.Scraper.Interval = time.Duration(cfg.Scraper.IntervalSeconds) * time.Second

	if cfg.Scraper.RequestTimeoutSeconds <= 0 {
		cfg.Scraper.RequestTimeoutSeconds = 15
	}
	cfg.Scraper.RequestTimeout = time.Duration(cfg.Scraper.RequestTimeoutSeconds) * time.Second

	if cfg.Scraper.MaxInFlight <= 0 {
		cfg.Scraper.MaxInFlight = 60
	}
	if cfg.Scraper.Listing.PageSize <= 0 {
		cfg.Scraper.Listing.PageSize = 20
	}
	if cfg.Scraper.Listing.MaxPages <= 0 {
		cfg.Scraper.Listing.MaxPages = 50
	}
	if cfg.Scraper.Timezone == "" {
		cfg.Scraper.Timezone = "Asia/Seoul"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Cleanup.SentRetentionHours <= 0 {
		cfg.Cleanup.SentRetentionHours = 24
	}
	cfg.Cleanup.SentRetention = time.Duration(cfg.Cleanup.SentRetentionHours) * time.Hour

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate reports settings without which a refresh cycle cannot run.
func (cfg *Config) Validate() error {
	switch {
	case cfg.Database.DSN == "":
		return fmt.Errorf("%w: database.dsn is required", ErrInvalid)
	case cfg.Scraper.Listing.URL == "":
		return fmt.Errorf("%w: scraper.listing.url is required", ErrInvalid)
	case cfg.Scraper.Times.URL == "":
		return fmt.Errorf("%w: scraper.times.url is required", ErrInvalid)
	case cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "":
		return fmt.Errorf("%w: push.vapid_public_key and push.vapid_private_key are required", ErrInvalid)
	}
	if _, err := time.LoadLocation(cfg.Scraper.Timezone); err != nil {
		return fmt.Errorf("%w: scraper.timezone %q: %v", ErrInvalid, cfg.Scraper.Timezone, err)
	}
	return nil
}

// Location returns the site's timezone, falling back to UTC.
func (cfg *Config) Location() *time.Location {
	loc, err := time.LoadLocation(cfg.Scraper.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
