package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestSlog_ContextFieldsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "pipeline"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithLake(ctx, "Pichola")
	log.InfoContext(ctx, "fit done", "ring", 2, "slope", 0.5, "err", errors.New("x"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1", len(lines))
	}
	l := lines[0]
	if l["msg"] != "fit done" || l["level"] != "info" {
		t.Fatalf("unexpected line: %v", l)
	}
	if l["run_id"] != "run-1" || l["lake"] != "Pichola" || l["component"] != "pipeline" {
		t.Fatalf("context fields missing: %v", l)
	}
	if l["ring"].(float64) != 2 || l["slope"].(float64) != 0.5 || l["err"] != "x" {
		t.Fatalf("attrs missing: %v", l)
	}
}

func TestSlog_LevelFilteringAndGroups(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)

	log.Info("hidden")
	log.WithGroup("fetch").Warn("slow", "ms", 120)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1 (info must be filtered)", len(lines))
	}
	if _, ok := lines[0]["fetch.ms"]; !ok {
		t.Fatalf("grouped attr missing: %v", lines[0])
	}
	if log.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("debug must be disabled at warn level")
	}
}

func TestDiscard_IsSilent(t *testing.T) {
	l := Discard()
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("discard logger must report disabled")
	}
	l.Error("nothing")
}
