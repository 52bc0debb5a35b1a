package app

import (
	"context"

	"api-gateway/internal/common/logging"
	"api-gateway/internal/redis"
)

// initializeRedis connects the shared store. An unreachable store is fatal
// only when rate limiting is enabled and fails closed; otherwise the gateway
// starts degraded and the client reconnects lazily.
func (app *App) initializeRedis(ctx context.Context) error {
	client := redis.Open(&redis.Config{
		Address:  app.Config.RedisAddress(),
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
		Timeout:  app.Config.RedisTimeout,
	})

	if err := client.Health(ctx); err != nil {
		if app.Config.RateLimitEnabled && !app.Config.RateLimitFailOpen {
			client.Close()
			return err
		}
		app.Logger.Warn("Redis unreachable at startup, continuing degraded",
			logging.String("address", app.Config.RedisAddress()),
			logging.Err(err),
		)
	} else {
		app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress()))
	}

	app.RedisClient = client
	return nil
}
