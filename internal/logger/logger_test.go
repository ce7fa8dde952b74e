package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return m
}

func TestSlogBridge_CarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Service: "nearby-search", Component: "test"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithSearchID(ctx, "nearby")
	ctx = WithToken(ctx, 7)
	log.InfoContext(ctx, "buffer done", "cells", 3, "err", errors.New("boom"))

	m := decodeLine(t, &buf)
	if m["msg"] != "buffer done" || m["level"] != "info" {
		t.Fatalf("unexpected record: %v", m)
	}
	if m["request_id"] != "req-1" || m["search_id"] != "nearby" {
		t.Fatalf("context fields missing: %v", m)
	}
	if m["token"] != float64(7) || m["cells"] != float64(3) || m["err"] != "boom" {
		t.Fatalf("attrs missing: %v", m)
	}
	if m["service"] != "nearby-search" || m["component"] != "test" {
		t.Fatalf("static fields missing: %v", m)
	}
}

func TestSlogBridge_GroupsAreDotted(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	log := NewSlog(&zl).WithGroup("buffer").With("unit", "meter")

	log.Info("x", slog.Float64("distance", 5))
	m := decodeLine(t, &buf)
	if m["buffer.unit"] != "meter" || m["buffer.distance"] != float64(5) {
		t.Fatalf("group keys not flattened: %v", m)
	}
}

func TestSlogBridge_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)
	t.Cleanup(func() { Build(Config{Level: "info"}, &bytes.Buffer{}) })

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be dropped at warn level, got %q", buf.String())
	}
	log.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("warn must be written")
	}
}

func TestWithToken_ZeroIsIgnored(t *testing.T) {
	ctx := WithToken(WithSearchID(context.Background(), "nearby"), 0)
	if f := fieldsFrom(ctx); f.token != 0 || f.searchID != "nearby" {
		t.Fatalf("fields=%+v", f)
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Fatalf("generated id=%q", id)
	}
	if RequestID(context.Background()) != "" {
		t.Fatalf("bare context must carry no request id")
	}
}

func TestSampling_KeepsWarnings(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", SampleN: 1000}, &buf)
	t.Cleanup(func() { Build(Config{Level: "info"}, &bytes.Buffer{}) })

	for range 10 {
		zl.Warn().Msg("kept")
	}
	if n := bytes.Count(buf.Bytes(), []byte("\n")); n != 10 {
		t.Fatalf("warnings must not be sampled, got %d lines", n)
	}
}
