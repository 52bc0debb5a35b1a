package logging

import (
	"fmt"
	"io"
	"os"
	"time"
)

// NewDefaultLogger creates a logger with default configuration using zap
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(DefaultLogConfig())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// NewLogger is NewZapLogger for callers that cannot handle an error
func NewLogger(config LogConfig) Logger {
	logger, err := NewZapLogger(config)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return logger
}

// InitGlobalLogger initializes the global logger from the configured level and
// optional log file. An empty logFile writes to stdout.
func InitGlobalLogger(level, logFile string) error {
	var output io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
	}

	parsed := ParseLevel(level)
	logger, err := NewZapLogger(LogConfig{
		Level:      parsed,
		Output:     output,
		TimeFormat: time.RFC3339,
	})
	if err != nil {
		return err
	}

	initOnce.Do(func() {})
	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		Field{"level", parsed.String()},
		Field{"log_file", logFile},
	)
	return nil
}

// MustSync flushes any buffered log entries for zap loggers.
// Call before application exit.
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

// WithFields is a convenience function to add fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

// Component returns the global logger tagged with a component name
func Component(name string) Logger {
	return GetGlobalLogger().WithFields(Field{"component", name})
}
