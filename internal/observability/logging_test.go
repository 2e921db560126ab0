package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sanjabh11/consultflow/internal/config"
	"github.com/sanjabh11/consultflow/model"
)

// newTestLogger creates a logger that writes JSON to a buffer for assertion.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	return entry
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level     string
		enabled   zapcore.Level
		disabled  zapcore.Level
		checkDown bool
	}{
		{level: "debug", enabled: zapcore.DebugLevel},
		{level: "info", enabled: zapcore.InfoLevel, disabled: zapcore.DebugLevel, checkDown: true},
		{level: "warn", enabled: zapcore.WarnLevel, disabled: zapcore.InfoLevel, checkDown: true},
		{level: "error", enabled: zapcore.ErrorLevel, disabled: zapcore.WarnLevel, checkDown: true},
		{level: "chatty", enabled: zapcore.InfoLevel, disabled: zapcore.DebugLevel, checkDown: true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level})
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", tt.level, err)
			}
			defer logger.Sync()

			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("level %v should be enabled", tt.enabled)
			}
			if tt.checkDown && logger.Core().Enabled(tt.disabled) {
				t.Errorf("level %v should not be enabled", tt.disabled)
			}
		})
	}
}

func TestNewLogger_formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		t.Run(format, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "info", LogFormat: format})
			if err != nil {
				t.Fatalf("NewLogger(format=%q) error = %v", format, err)
			}
			defer logger.Sync()
			if !logger.Core().Enabled(zapcore.InfoLevel) {
				t.Error("info should be enabled")
			}
		})
	}
}

func TestWithLogger_and_LoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)
	if got := LoggerFrom(ctx, nil); got != logger {
		t.Error("LoggerFrom should return the stored logger")
	}
}

func TestLoggerFrom_fallback(t *testing.T) {
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return fallback when no logger is stored")
	}
}

func TestRequestLogger_enrichesWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID:     "officer-7",
		CorrelationID: "corr-abc",
		TraceID:       "trace-xyz",
	})
	ctx = WithLogger(ctx, logger)

	RequestLogger(ctx, zap.NewNop()).Info("consent recorded")

	entry := decodeEntry(t, &buf)
	checks := map[string]string{
		"subject_id":     "officer-7",
		"correlation_id": "corr-abc",
		"trace_id":       "trace-xyz",
		"msg":            "consent recorded",
		"level":          "info",
	}
	for key, want := range checks {
		got, ok := entry[key].(string)
		if !ok {
			t.Errorf("missing field %q in log entry", key)
			continue
		}
		if got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestRequestLogger_noTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID:     "officer-7",
		CorrelationID: "corr-abc",
	})
	RequestLogger(ctx, logger).Info("no trace")

	if _, exists := decodeEntry(t, &buf)["trace_id"]; exists {
		t.Error("trace_id should not be present when empty")
	}
}

func TestRequestLogger_noRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	RequestLogger(context.Background(), logger).Info("no context")

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "no context" {
		t.Errorf("msg = %q, want no context", entry["msg"])
	}
	if _, exists := entry["subject_id"]; exists {
		t.Error("subject_id should not be present without RequestContext")
	}
}
