package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_WritesJSONLineWithSortedFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, Options{Service: "dedupe", Level: LevelInfo})
	log.Info(context.Background(), "run started", map[string]any{"zeta": 1, "alpha": "a"})

	line := strings.TrimSpace(buf.String())
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("expected valid JSON line, got error %v: %s", err, line)
	}
	if ev.Msg != "run started" || ev.Service != "dedupe" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(ev.Fields) != 2 || ev.Fields[0].K != "alpha" || ev.Fields[1].K != "zeta" {
		t.Fatalf("expected fields sorted by key, got %+v", ev.Fields)
	}
}

func TestLogger_FiltersBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, Options{Service: "dedupe", Level: LevelWarn})
	log.Info(context.Background(), "should be dropped", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected info log suppressed at warn level, got %q", buf.String())
	}
	log.Warn(context.Background(), "should be kept", nil)
	if buf.Len() == 0 {
		t.Fatal("expected warn log to be written")
	}
}

func TestLogger_EnrichesFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, Options{Service: "dedupe", Level: LevelInfo})
	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithRunID(ctx, "run-456")
	log.Info(ctx, "processing", nil)

	var ev Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := map[string]string{}
	for _, f := range ev.Fields {
		found[f.K] = f.V
	}
	if found["request_id"] != "req-123" || found["run_id"] != "run-456" {
		t.Fatalf("expected context-derived fields, got %+v", ev.Fields)
	}
}

func TestLogger_NilLoggerIsSafeNoOp(t *testing.T) {
	var log *Logger
	log.Info(context.Background(), "noop", nil)
}

func TestNop_DiscardsSilently(t *testing.T) {
	Nop.Error(context.Background(), "should not panic", map[string]any{"x": 1})
}
