package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		out = append(out, m)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.Info("hidden").Send()
	l.Warn("shown").Send()

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["service"] != "model-registry" || lines[0]["level"] != "warn" {
		t.Errorf("unexpected line: %v", lines[0])
	}
}

func TestRequestLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf})

	l.LogGrpcRequest("/modelregistry.v1.ModelRegistry/Get", 5*time.Millisecond, nil)
	l.LogHTTPRequest("req-1", "GET", "/api/model_registry/v1alpha3/registered_models/:id", 404, time.Millisecond, errors.New("not found"))
	l.Component("http").WithRequestID("req-2").Info("scoped").Send()

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0]["component"] != "grpc" || lines[0]["level"] != "info" {
		t.Errorf("grpc line: %v", lines[0])
	}
	if lines[1]["level"] != "warn" || lines[1]["request_id"] != "req-1" || lines[1]["status"] != float64(404) {
		t.Errorf("http line: %v", lines[1])
	}
	if lines[2]["request_id"] != "req-2" || lines[2]["component"] != "http" {
		t.Errorf("scoped line: %v", lines[2])
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{
		"debug": "debug", "WARN": "warn", "error": "error", "": "info", "loud": "info",
	} {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
