package app

import (
	"net/http"
	"time"

	"api-gateway/internal/common/logging"
	"api-gateway/internal/handlers"
	"api-gateway/internal/middleware"
	"api-gateway/internal/server"

	"github.com/gorilla/mux"
)

// Handler builds the complete HTTP handler for the gateway.
func (app *App) Handler() http.Handler {
	h := handlers.New(handlers.Options{
		Pipeline:          app.Pipeline,
		Upstream:          app.Proxy,
		Cache:             app.Cache,
		Limiter:           app.Limiter,
		Store:             app.RedisClient,
		TrustProxyHeaders: app.Config.TrustProxyHeaders,
		FailOpen:          app.Config.RateLimitFailOpen,
		Metrics:           app.Metrics,
		Logger:            app.Logger,
	})

	router := mux.NewRouter()
	SetupRoutes(router, h,
		[]mux.MiddlewareFunc{
			middleware.RequestID,
			middleware.LoggingMiddleware(logging.Component("http"), app.Metrics),
		},
		RouteOptions{
			AdminAPIKey: app.Config.AdminAPIKey,
			Gatherer:    app.Registry,
		},
	)

	if app.Config.AdminEnabled() {
		app.Logger.Info("Admin API: Enabled")
	} else {
		app.Logger.Info("Admin API: Disabled (ADMIN_API_KEY not set)")
	}

	return router
}

// RunServer creates the HTTP server with all handlers configured
func (app *App) RunServer() *server.Server {
	return server.New(app.Handler(), server.Config{
		Port:    app.Config.Port,
		TLSCert: app.Config.TLSCertFile,
		TLSKey:  app.Config.TLSKeyFile,
		// streamed downstream responses may legitimately take the full upstream timeout
		WriteTimeout: app.Config.UpstreamTimeout + 5*time.Second,
	})
}
