package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/maltedev/price-aggregator/internal/models"
)

const (
	FetcherHTTP    = "http"
	FetcherBrowser = "browser"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Refresh  RefreshConfig
	Relay    RelayConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

type ScraperConfig struct {
	Timeout        time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
	UserAgent      string
	AcceptLanguage string
	PoolSize       int
	SearchDeadline time.Duration
	MaxResults     int
	Fetcher        string
	Sites          []string
	// Rate limiting is off unless RateLimitRPS or RateLimitMin is set.
	RateLimitRPS   float64
	RateLimitBurst int
	RateLimitMin   time.Duration
	RateLimitMax   time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type RefreshConfig struct {
	Enabled  bool
	Interval time.Duration
	Pause    time.Duration
}

type RelayConfig struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads .env files when present and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getDurationOrDefault("SERVER_REQUEST_TIMEOUT", 60*time.Second),
		},
		Scraper: ScraperConfig{
			Timeout:        getDurationOrDefault("SCRAPER_TIMEOUT", 10*time.Second),
			MaxAttempts:    getIntOrDefault("SCRAPER_MAX_ATTEMPTS", 3),
			RetryDelay:     getDurationOrDefault("SCRAPER_RETRY_DELAY", 2*time.Second),
			UserAgent:      getEnvOrDefault("SCRAPER_USER_AGENT", defaultUserAgent),
			AcceptLanguage: getEnvOrDefault("SCRAPER_ACCEPT_LANGUAGE", "ja-JP,ja;q=0.9,en-US;q=0.8,en;q=0.7"),
			PoolSize:       getIntOrDefault("SCRAPER_POOL_SIZE", 3),
			SearchDeadline: getDurationOrDefault("SCRAPER_SEARCH_DEADLINE", 30*time.Second),
			MaxResults:     getIntOrDefault("SCRAPER_MAX_RESULTS", 10),
			Fetcher:        strings.ToLower(getEnvOrDefault("SCRAPER_FETCHER", FetcherHTTP)),
			Sites:          getStringSliceOrDefault("SCRAPER_SITES", []string{"amazon", "rakuten", "yahoo"}),
			RateLimitRPS:   getFloatOrDefault("SCRAPER_RATE_LIMIT_RPS", 0),
			RateLimitBurst: getIntOrDefault("SCRAPER_RATE_LIMIT_BURST", 1),
			RateLimitMin:   getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 0),
			RateLimitMax:   getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 0),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "ja-JP,ja;q=0.9,en-US;q=0.8,en;q=0.7"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Tokyo"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "ja-JP"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Database: DatabaseConfig{
			Host:        getEnvOrDefault("DB_HOST", "localhost"),
			Port:        getIntOrDefault("DB_PORT", 5432),
			User:        getEnvOrDefault("DB_USER", "postgres"),
			Password:    getEnvOrDefault("DB_PASSWORD", ""),
			DBName:      getEnvOrDefault("DB_NAME", "price_aggregator"),
			SSLMode:     getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns:    int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			MinConns:    int32(getIntOrDefault("DB_MIN_CONNS", 1)),
			MaxConnLife: getDurationOrDefault("DB_MAX_CONN_LIFE", time.Hour),
			MaxConnIdle: getDurationOrDefault("DB_MAX_CONN_IDLE", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled: getBoolOrDefault("CACHE_ENABLED", true),
			TTL:     getDurationOrDefault("CACHE_TTL", 10*time.Minute),
		},
		Refresh: RefreshConfig{
			Enabled:  getBoolOrDefault("REFRESH_ENABLED", true),
			Interval: getDurationOrDefault("REFRESH_INTERVAL", time.Hour),
			Pause:    getDurationOrDefault("REFRESH_PAUSE", time.Second),
		},
		Relay: RelayConfig{
			Enabled:      getBoolOrDefault("RELAY_ENABLED", true),
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.MaxAttempts < 1 {
		return fmt.Errorf("SCRAPER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Scraper.Timeout <= 0 {
		return fmt.Errorf("SCRAPER_TIMEOUT must be positive")
	}

	if c.Scraper.RetryDelay < 0 {
		return fmt.Errorf("SCRAPER_RETRY_DELAY cannot be negative")
	}

	if c.Scraper.PoolSize < 1 {
		return fmt.Errorf("SCRAPER_POOL_SIZE must be at least 1")
	}

	if c.Scraper.SearchDeadline <= 0 {
		return fmt.Errorf("SCRAPER_SEARCH_DEADLINE must be positive")
	}

	if c.Scraper.Fetcher != FetcherHTTP && c.Scraper.Fetcher != FetcherBrowser {
		return fmt.Errorf("SCRAPER_FETCHER must be %q or %q, got %q", FetcherHTTP, FetcherBrowser, c.Scraper.Fetcher)
	}

	if _, err := c.Scraper.Sources(); err != nil {
		return err
	}

	if c.Scraper.RateLimitMax > 0 && c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}

	if c.Relay.BatchSize < 1 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
	}

	return nil
}

// Sources parses the configured site keys, keeping their order.
func (s ScraperConfig) Sources() ([]models.Source, error) {
	if len(s.Sites) == 0 {
		return nil, fmt.Errorf("SCRAPER_SITES must list at least one site")
	}

	sources := make([]models.Source, 0, len(s.Sites))
	seen := make(map[models.Source]bool, len(s.Sites))
	for _, key := range s.Sites {
		source, err := models.ParseSource(key)
		if err != nil {
			return nil, fmt.Errorf("invalid SCRAPER_SITES: %w", err)
		}
		if seen[source] {
			continue
		}
		seen[source] = true
		sources = append(sources, source)
	}
	return sources, nil
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
