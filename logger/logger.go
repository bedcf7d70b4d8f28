// Package logger provides structured logging for the capture server.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Connection lifecycle logging (connect, disconnect, drops)
//   - Capture session lifecycle logging (start, end, stats reports)
//   - Disk writer and validation logging
//   - Contextual logging with per-connection fields
//   - Level-based verbosity control
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger
)

func init() {
	// Check LOG_LEVEL environment variable
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		switch strings.ToLower(envLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	// Initialize with text handler writing to stderr
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(NewContextHandler(handler))
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(NewContextHandler(handler))
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
// This is a convenience wrapper around SetLevel.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// Info logs an informational message with structured key-value attributes.
// Args should be provided in key-value pairs: key1, value1, key2, value2, ...
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
// Fields stashed in the context (connection id, session id, ...) are added automatically.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
// Debug messages are only output when the log level is set to LevelDebug or lower.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
// Use for errors that affect operation but don't cause complete failure.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// ClientConnected logs a new client connection.
func ClientConnected(clientID, remote string, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"client_id", clientID,
		"remote", remote,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("🔌 Client Connected", allAttrs...)
}

// ClientDisconnected logs a client disconnect with the number of remaining connections.
func ClientDisconnected(clientID, reason string, active int, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"client_id", clientID,
		"reason", reason,
		"active", active,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("🔌 Client Disconnected", allAttrs...)
}

// SessionStarted logs the creation of a capture session.
func SessionStarted(sessionID, path string, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"session_id", sessionID,
		"path", path,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("🎬 Session Started", allAttrs...)
}

// SessionEnded logs the final statistics of a finished capture session.
func SessionEnded(sessionID string, frames int, durationSec, fps, avgLatencyMS float64, attrs ...any) {
	allAttrs := make([]any, 0, 10+len(attrs))
	allAttrs = append(allAttrs,
		"session_id", sessionID,
		"frames", frames,
		"duration_sec", durationSec,
		"fps", fps,
		"avg_latency_ms", avgLatencyMS,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("🏁 Session Ended", allAttrs...)
}

// FrameDropped logs a frame that could not be decoded or stored.
// Dropped frames are expected under malformed input and never abort the stream.
func FrameDropped(clientID, reason string, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"client_id", clientID,
		"reason", reason,
	)
	allAttrs = append(allAttrs, attrs...)
	Warn("⚠️ Frame Dropped", allAttrs...)
}

// WriteFailed logs a failed image write from the disk writer pool.
func WriteFailed(path string, err error, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"path", path,
		"error", err,
	)
	allAttrs = append(allAttrs, attrs...)
	Error("❌ Frame Write Failed", allAttrs...)
}

// StatsReport logs a periodic throughput report for the current session.
func StatsReport(frames int, fps, latencyMS float64, queue int, totalMB float64, attrs ...any) {
	allAttrs := make([]any, 0, 10+len(attrs))
	allAttrs = append(allAttrs,
		"frames", frames,
		"fps", fps,
		"latency_ms", latencyMS,
		"queue", queue,
		"total_mb", totalMB,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("📊 Capture Stats", allAttrs...)
}

// ValidationCompleted logs the outcome of a session validation run.
func ValidationCompleted(sessionID string, score int, valid bool, errCount, warnCount int, attrs ...any) {
	allAttrs := make([]any, 0, 10+len(attrs))
	allAttrs = append(allAttrs,
		"session_id", sessionID,
		"score", score,
		"valid", valid,
		"errors", errCount,
		"warnings", warnCount,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("🔍 Validation Complete", allAttrs...)
}
