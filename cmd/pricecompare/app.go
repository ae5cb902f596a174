package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/maltedev/price-aggregator/internal/aggregator"
	"github.com/maltedev/price-aggregator/internal/browser"
	"github.com/maltedev/price-aggregator/internal/cache"
	"github.com/maltedev/price-aggregator/internal/config"
	"github.com/maltedev/price-aggregator/internal/database"
	"github.com/maltedev/price-aggregator/internal/ratelimit"
	"github.com/maltedev/price-aggregator/internal/scraper"
	"github.com/redis/go-redis/v9"
)

// app holds the wired components of one command invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	manager *aggregator.Manager
	redis   *redis.Client
	db      *database.DB
	closers []func() error
}

type appOptions struct {
	// persistence connects Postgres and applies the schema.
	persistence bool
	// cache enables the Redis search cache when configured.
	cache bool
}

func newApp(ctx context.Context, envFile string, opts appOptions) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{cfg: cfg, logger: newLogger(cfg.Logging)}
	slog.SetDefault(a.logger)

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	fetcher, err := a.newFetcher()
	if err != nil {
		return nil, err
	}

	sources, err := cfg.Scraper.Sources()
	if err != nil {
		return nil, err
	}
	adapters, err := scraper.NewAdapters(sources, fetcher, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapters: %w", err)
	}

	var resultCache aggregator.ResultCache
	if opts.cache && cfg.Cache.Enabled {
		if client := a.connectRedis(ctx); client != nil {
			resultCache = cache.NewRedisCache(client, cfg.Cache.TTL, a.logger)
		}
	}

	a.manager, err = aggregator.NewManager(adapters, aggregator.Options{
		PoolSize: cfg.Scraper.PoolSize,
		Deadline: cfg.Scraper.SearchDeadline,
		Cache:    resultCache,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}

	if opts.persistence {
		a.db, err = database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnLife: cfg.Database.MaxConnLife,
			MaxConnIdle: cfg.Database.MaxConnIdle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, func() error { a.db.Close(); return nil })

		if err := a.db.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

func (a *app) newFetcher() (scraper.Fetcher, error) {
	sc := a.cfg.Scraper

	if sc.Fetcher == config.FetcherBrowser {
		bc := a.cfg.Browser
		b, err := browser.New(&browser.Options{
			Headless:       bc.Headless,
			Timeout:        bc.Timeout,
			UserAgent:      sc.UserAgent,
			ViewportWidth:  bc.ViewportWidth,
			ViewportHeight: bc.ViewportHeight,
			AcceptLanguage: bc.AcceptLanguage,
			TimezoneID:     bc.TimezoneID,
			Locale:         bc.Locale,
			ProxyServer:    bc.ProxyServer,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize browser: %w", err)
		}
		a.closers = append(a.closers, b.Close)
		return scraper.NewBrowserFetcher(b, sc.MaxAttempts, sc.RetryDelay, a.logger), nil
	}

	return scraper.NewHTTPFetcher(scraper.FetcherOptions{
		UserAgent:      sc.UserAgent,
		AcceptLanguage: sc.AcceptLanguage,
		Timeout:        sc.Timeout,
		MaxAttempts:    sc.MaxAttempts,
		RetryDelay:     sc.RetryDelay,
		Limiter:        ratelimit.New(sc.RateLimitRPS, sc.RateLimitBurst, sc.RateLimitMin, sc.RateLimitMax),
	}, a.logger), nil
}

// connectRedis returns a live client or nil. The cache is an optimization,
// so an unreachable Redis only costs a warning.
func (a *app) connectRedis(ctx context.Context) *redis.Client {
	if a.redis != nil {
		return a.redis
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		a.logger.Warn("redis unavailable", "addr", a.cfg.Redis.Addr, "error", err)
		_ = client.Close()
		return nil
	}

	a.redis = client
	a.closers = append(a.closers, client.Close)
	return client
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// stdout carries command output; logs go to stderr.
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
