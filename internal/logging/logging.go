// Package logging wires a process-wide structured logger. Every request
// ends with exactly one completion line, success or error, carrying the
// request id and elapsed time.
package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once   sync.Once
	logger *zap.SugaredLogger
)

// L returns the process-wide sugared logger, building it from LOG_LEVEL and
// ENV on first use.
func L() *zap.SugaredLogger {
	once.Do(func() {
		logger = build()
	})
	return logger
}

func build() *zap.SugaredLogger {
	var cfg zap.Config
	if strings.EqualFold(os.Getenv("ENV"), "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(os.Getenv("LOG_LEVEL")))

	l, err := cfg.Build()
	if err != nil {
		// Build only fails on a malformed config; fall back to a no-op
		// logger, which discards output, so callers never see nil.
		l = zap.NewNop()
	}
	return l.Sugar()
}

func parseLevel(raw string) zapcore.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Infof logs an informational line.
func Infof(format string, args ...interface{}) {
	L().Infof(format, args...)
}

// Warnf logs a recoverable anomaly (a malformed upstream chunk, a retryable
// failure) that does not abort the current request.
func Warnf(format string, args ...interface{}) {
	L().Warnf(format, args...)
}

// Errorf logs a request-ending failure.
func Errorf(format string, args ...interface{}) {
	L().Errorf(format, args...)
}

// RequestDone logs the mandatory end-of-request line: success or failure,
// always carrying the request id and elapsed time.
func RequestDone(requestID string, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil {
		L().Errorw("request failed", "request_id", requestID, "elapsed", elapsed, "error", err)
		return
	}
	L().Infow("request completed", "request_id", requestID, "elapsed", elapsed)
}

// Sync flushes any buffered log entries. Call during graceful shutdown.
func Sync() {
	_ = L().Sync()
}
