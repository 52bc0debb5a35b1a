package app

import (
	"context"
	"fmt"

	"api-gateway/internal/admission"
	"api-gateway/internal/auth"
	"api-gateway/internal/cache"
	"api-gateway/internal/common/logging"
	"api-gateway/internal/config"
	"api-gateway/internal/metrics"
	"api-gateway/internal/proxy"
	"api-gateway/internal/ratelimit"
	"api-gateway/internal/redis"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	RedisClient *redis.Client
	Resolver    *auth.Resolver
	Limiter     *ratelimit.Limiter
	Cache       *cache.Cache
	Proxy       *proxy.Proxy
	Pipeline    *admission.Pipeline
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.Component("app"),
	}

	app.initializeMetrics()

	if err := app.initializeRedis(context.Background()); err != nil {
		return nil, err
	}

	if err := app.initializeAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeRateLimiter()
	app.initializeCache()

	if err := app.initializeProxy(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.Pipeline = admission.New(app.Resolver, app.Limiter, app.Cache, app.Metrics, app.Logger)

	return app, nil
}

func (app *App) initializeMetrics() {
	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Metrics = metrics.New(app.Registry)
}

func (app *App) initializeCache() {
	app.Cache = cache.New(app.RedisClient, &cache.Config{
		Enabled: app.Config.CacheEnabled,
		TTL:     app.Config.CacheTTL,
	}, app.Logger)

	if app.Config.CacheEnabled {
		app.Logger.Info("Response cache: Enabled", logging.Duration("ttl", app.Config.CacheTTL))
	} else {
		app.Logger.Info("Response cache: Disabled")
	}
}

func (app *App) initializeProxy() error {
	p, err := proxy.New(proxy.Config{
		Target:  app.Config.DownstreamURL,
		Timeout: app.Config.UpstreamTimeout,
	}, app.Metrics, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to create downstream proxy: %w", err)
	}

	app.Proxy = p
	app.Logger.Info("Downstream configured", logging.String("target", p.Target()))
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
}
