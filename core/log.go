// Package core provides the shared logging facade for obscache.
//
// obscache is a library, not a service: by default it logs at Warn and
// above only, so operator diagnostics (dropped transform changes,
// failed expiry evictions, rolled-back edits) surface without the host application
// inheriting chatty Info output. Hosts that want more detail install
// their own logger with SetLogger or rebuild the default with
// ConfigureLogger.
package core

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// componentField tags every entry produced through this facade so cache
// diagnostics are separable from the host application's own logs.
var componentField = zap.String("component", "obscache")

var (
	// Logger is the global logger instance
	Logger *zap.Logger
)

func init() {
	logger, err := buildLogger(false, zapcore.WarnLevel, nil)
	if err != nil {
		// Fallback to no-op logger
		logger = zap.NewNop()
	}
	Logger = logger
}

// buildLogger assembles a zap logger with the encoding this library uses
// everywhere: ISO8601 timestamps, short caller, and the component field
// on every entry.
func buildLogger(development bool, level zapcore.Level, outputPaths []string) (*zap.Logger, error) {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	config.Level = zap.NewAtomicLevelAt(level)
	if len(outputPaths) > 0 {
		config.OutputPaths = outputPaths
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	logger, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return logger.With(componentField), nil
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	Logger.Debug(msg, fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	Logger.Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	Logger.Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	Logger.Error(msg, fields...)
}

// With creates a child logger with the given fields
func With(fields ...zap.Field) *zap.Logger {
	return Logger.With(fields...)
}

// Named creates a child logger scoped to one operator or cache, e.g.
// Named("expiry") or Named("sort"), so a pipeline's stages can be told
// apart in the host's logs.
func Named(operator string) *zap.Logger {
	return Logger.Named(operator)
}

// SetLogger sets the global logger instance. Libraries embedding
// obscache typically pass a child of their own application logger.
func SetLogger(logger *zap.Logger) {
	Logger = logger.With(componentField)
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	return Logger
}

// ConfigureLogger rebuilds the global logger. The level accepts
// "debug", "info", "warn" and "error"; anything else keeps the library
// default of Warn.
func ConfigureLogger(development bool, level string, outputPaths ...string) error {
	parsed := zapcore.WarnLevel
	switch level {
	case "debug":
		parsed = zapcore.DebugLevel
	case "info":
		parsed = zapcore.InfoLevel
	case "warn":
		parsed = zapcore.WarnLevel
	case "error":
		parsed = zapcore.ErrorLevel
	}

	logger, err := buildLogger(development, parsed, outputPaths)
	if err != nil {
		return err
	}

	Logger = logger
	return nil
}
