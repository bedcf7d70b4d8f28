package logger

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestSetLevel(t *testing.T) {
	// Test setting different levels
	SetLevel(slog.LevelDebug)
	if DefaultLogger == nil {
		t.Error("Expected DefaultLogger to be set")
	}

	SetLevel(slog.LevelInfo)
	if DefaultLogger == nil {
		t.Error("Expected DefaultLogger to be set")
	}

	SetLevel(slog.LevelWarn)
	if DefaultLogger == nil {
		t.Error("Expected DefaultLogger to be set")
	}

	SetLevel(slog.LevelError)
	if DefaultLogger == nil {
		t.Error("Expected DefaultLogger to be set")
	}
}

func TestSetVerbose(t *testing.T) {
	// Enable verbose
	SetVerbose(true)
	if DefaultLogger == nil {
		t.Error("Expected DefaultLogger to be set after SetVerbose(true)")
	}

	// Disable verbose
	SetVerbose(false)
	if DefaultLogger == nil {
		t.Error("Expected DefaultLogger to be set after SetVerbose(false)")
	}
}

func TestInfo(t *testing.T) {
	// Should not panic
	Info("test message")
	Info("test with args", "key", "value")
	Info("test with multiple", "key1", "value1", "key2", "value2")
}

func TestInfoContext(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	InfoContext(ctx, "test message")
	InfoContext(ctx, "test with args", "key", "value")
}

func TestDebug(t *testing.T) {
	SetVerbose(true) // Enable debug logging

	// Should not panic
	Debug("debug message")
	Debug("debug with args", "key", "value")

	SetVerbose(false) // Reset
}

func TestDebugContext(t *testing.T) {
	SetVerbose(true) // Enable debug logging
	ctx := context.Background()

	// Should not panic
	DebugContext(ctx, "debug message")
	DebugContext(ctx, "debug with args", "key", "value")

	SetVerbose(false) // Reset
}

func TestWarn(t *testing.T) {
	// Should not panic
	Warn("warning message")
	Warn("warning with args", "key", "value")
}

func TestWarnContext(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	WarnContext(ctx, "warning message")
	WarnContext(ctx, "warning with args", "key", "value")
}

func TestError(t *testing.T) {
	// Should not panic
	Error("error message")
	Error("error with args", "key", "value", "error", "test error")
}

func TestErrorContext(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	ErrorContext(ctx, "error message")
	ErrorContext(ctx, "error with args", "key", "value", "error", "test error")
}

func TestClientConnected(t *testing.T) {
	// Should not panic
	ClientConnected("client-1", "10.0.0.5:51234")
	ClientConnected("client-2", "10.0.0.6:51235", "user_agent", "phone-app")
}

func TestClientDisconnected(t *testing.T) {
	// Should not panic
	ClientDisconnected("client-1", "connection closed", 0)
	ClientDisconnected("client-2", "read error", 3)
}

func TestSessionStarted(t *testing.T) {
	// Should not panic
	SessionStarted("session_20250101_120000", "/tmp/captures/session_20250101_120000")
}

func TestSessionEnded(t *testing.T) {
	// Should not panic
	SessionEnded("session_20250101_120000", 120, 12.5, 9.6, 45.2)
	SessionEnded("session_20250101_130000", 0, 0, 0, 0, "reason", "shutdown")
}

func TestFrameDropped(t *testing.T) {
	// Should not panic
	FrameDropped("client-1", "invalid base64 payload")
	FrameDropped("client-1", "decode failed", "size", 1024)
}

func TestWriteFailed(t *testing.T) {
	// Should not panic
	WriteFailed("/tmp/captures/rgb/1.000000.jpg", errors.New("disk full"))
}

func TestStatsReport(t *testing.T) {
	// Should not panic
	StatsReport(100, 10.1, 42.0, 3, 15.2)
}

func TestValidationCompleted(t *testing.T) {
	// Should not panic
	ValidationCompleted("session_20250101_120000", 95, true, 0, 1)
	ValidationCompleted("session_20250101_130000", 0, false, 3, 5)
}
