package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelDebug})
	logger.Info("send attempt", "attempt", 1)

	output := buf.String()
	if !strings.Contains(output, "send attempt") {
		t.Errorf("expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, "attempt=1") {
		t.Errorf("expected output to contain attr, got: %s", output)
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{JSON: true})
	logger.Info("stream opened", "url", "http://example.test/stream")

	if !strings.Contains(buf.String(), `"msg":"stream opened"`) {
		t.Errorf("expected JSON output with msg field, got: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo})
	logger.Debug("chunk received")
	logger.Info("stream closed")

	output := buf.String()
	if strings.Contains(output, "chunk received") {
		t.Error("DEBUG message should be filtered out")
	}
	if !strings.Contains(output, "stream closed") {
		t.Error("INFO message should appear")
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	if logger == nil {
		t.Fatal("NewNop() returned nil")
	}
	logger.Info("discarded")
	logger.Error("discarded too")
}

func TestComponentContext(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{})
	logger.With("component", "sender").Info("message queued")

	if !strings.Contains(buf.String(), "component=sender") {
		t.Errorf("expected component attr, got: %s", buf.String())
	}
}
