package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}
	return entry
}

// TestLogger_IncludesOpFields verifies operation fields are present in log output.
func TestLogger_IncludesOpFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.WithOp(OpMeta{
		Component: "dispatch",
		Operation: "tier",
		Resource:  "openai",
		RunID:     "run-1",
	}).Info(context.Background(), "test message")

	entry := decodeEntry(t, &buf)

	want := map[string]string{
		"component": "dispatch",
		"op":        "tier",
		"resource":  "openai",
		"run_id":    "run-1",
		"message":   "test message",
		"level":     "info",
	}
	for k, v := range want {
		if got, _ := entry[k].(string); got != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
}

// TestLogger_IncludesDuration verifies numeric fields survive encoding.
func TestLogger_IncludesDuration(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "test message", Field{Key: "duration_ms", Value: 50.5})

	entry := decodeEntry(t, &buf)
	if v, ok := entry["duration_ms"].(float64); !ok || v != 50.5 {
		t.Errorf("duration_ms = %v, want 50.5", entry["duration_ms"])
	}
}

// TestLogger_ErrorField verifies error values are rendered as strings.
func TestLogger_ErrorField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Error(context.Background(), "boom", F("error", errors.New("session is closed")))

	entry := decodeEntry(t, &buf)
	if entry["level"] != "error" {
		t.Errorf("level = %v, want error", entry["level"])
	}
	if entry["error"] != "session is closed" {
		t.Errorf("error = %v, want %q", entry["error"], "session is closed")
	}
}

// TestLogger_Redaction verifies sensitive fields are redacted.
func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", &buf)

	logger.Info(context.Background(), "calling",
		F("api_key", "sk-123"),
		F("request", map[string]string{"prompt": "secret stuff"}),
		F("resource", "openai"),
	)

	out := buf.String()
	if strings.Contains(out, "sk-123") || strings.Contains(out, "secret stuff") {
		t.Errorf("sensitive value leaked: %s", out)
	}

	entry := decodeEntry(t, &buf)
	if entry["api_key"] != "[REDACTED]" {
		t.Errorf("api_key = %v, want [REDACTED]", entry["api_key"])
	}
	if entry["resource"] != "openai" {
		t.Errorf("resource = %v, want openai", entry["resource"])
	}
}

// TestLogger_WithRedactsBoundFields verifies With applies redaction too.
func TestLogger_WithRedactsBoundFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).With(F("token", "abc"), F("service", "svc"))

	logger.Info(context.Background(), "hello")

	entry := decodeEntry(t, &buf)
	if entry["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want [REDACTED]", entry["token"])
	}
	if entry["service"] != "svc" {
		t.Errorf("service = %v, want svc", entry["service"])
	}
}

// TestLogger_LevelFiltering verifies entries below the level are dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		log   func(Logger)
		want  bool
	}{
		{"info", func(l Logger) { l.Debug(context.Background(), "x") }, false},
		{"info", func(l Logger) { l.Info(context.Background(), "x") }, true},
		{"warn", func(l Logger) { l.Info(context.Background(), "x") }, false},
		{"warn", func(l Logger) { l.Warn(context.Background(), "x") }, true},
		{"error", func(l Logger) { l.Warn(context.Background(), "x") }, false},
		{"debug", func(l Logger) { l.Debug(context.Background(), "x") }, true},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		tt.log(NewLoggerWithWriter(tt.level, &buf))
		if got := buf.Len() > 0; got != tt.want {
			t.Errorf("level %s: wrote = %v, want %v", tt.level, got, tt.want)
		}
	}
}

// TestLogger_TraceCorrelation verifies span IDs from the context are logged.
func TestLogger_TraceCorrelation(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	NewLoggerWithWriter("info", &buf).Info(ctx, "inside span")

	entry := decodeEntry(t, &buf)
	if entry["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want %s", entry["trace_id"], span.SpanContext().TraceID())
	}
}

// TestLogger_ConsoleFormat verifies console output is not JSON.
func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithConfig(LoggingConfig{Level: "info", Format: "console"}, &buf)

	logger.Info(context.Background(), "human readable")

	if !strings.Contains(buf.String(), "human readable") {
		t.Errorf("output missing message: %q", buf.String())
	}
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("console output should not be JSON: %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"bogus": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
