package app

import (
	"api-gateway/internal/common/logging"
	"api-gateway/internal/ratelimit"
)

func (app *App) initializeRateLimiter() {
	app.Limiter = ratelimit.NewLimiter(app.RedisClient, &ratelimit.Config{
		Enabled:  app.Config.RateLimitEnabled,
		Limit:    app.Config.RateLimitPerWindow,
		Window:   app.Config.RateLimitWindow,
		FailOpen: app.Config.RateLimitFailOpen,
	}, app.Logger)

	if !app.Config.RateLimitEnabled {
		app.Logger.Info("Rate Limiting: Disabled")
		return
	}

	app.Logger.Info("Rate Limiting: Enabled",
		logging.Int("limit", app.Config.RateLimitPerWindow),
		logging.Duration("window", app.Config.RateLimitWindow),
		logging.Bool("fail_open", app.Config.RateLimitFailOpen),
	)
}
