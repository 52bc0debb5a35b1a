package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"api-gateway/internal/common/logging"
	"api-gateway/internal/config"

	"github.com/joho/godotenv"
)

// Version is reported at startup.
var Version = "dev"

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	cfg := config.Load()

	if err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting API gateway",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("version", Version),
	)

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv := app.RunServer()
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}
	logging.Info("Server listening",
		logging.String("addr", srv.Addr()),
		logging.Bool("tls", cfg.TLSEnabled()),
	)

	// Wait for interrupt signal or a serve failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err, ok := <-srv.Errors():
		if ok {
			logging.Error("Server stopped unexpectedly", err)
			return err
		}
	}

	logging.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
