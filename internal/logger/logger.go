// Package logger builds the zerolog logger the service writes through and the
// slog bridge used by the rest of the code. A context may carry the HTTP
// request id, the search id and token of a run, and the component name; every
// line logged with that context includes them.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	// SampleN keeps one in N debug and info lines. Warnings and errors are
	// never sampled since they carry user-facing notices.
	SampleN   int
	Service   string
	Component string
}

type ctxKey struct{}

type runFields struct {
	requestID string
	searchID  string
	token     uint64
	component string
}

func fieldsFrom(ctx context.Context) runFields {
	f, _ := ctx.Value(ctxKey{}).(runFields)
	return f
}

func withFields(ctx context.Context, set func(*runFields)) context.Context {
	f := fieldsFrom(ctx)
	set(&f)
	return context.WithValue(ctx, ctxKey{}, f)
}

// WithRequestID generates an id when reqID is empty.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return withFields(ctx, func(f *runFields) { f.requestID = reqID })
}

func WithSearchID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return withFields(ctx, func(f *runFields) { f.searchID = id })
}

// WithToken tags the context with the request token of one search run.
func WithToken(ctx context.Context, token uint64) context.Context {
	if token == 0 {
		return ctx
	}
	return withFields(ctx, func(f *runFields) { f.token = token })
}

func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return withFields(ctx, func(f *runFields) { f.component = component })
}

// RequestID returns the request id carried by ctx, or "".
func RequestID(ctx context.Context) string { return fieldsFrom(ctx).requestID }

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func sampleEvery(n int) uint32 {
	switch {
	case n <= 1:
		return 0
	case n > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(n)
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out)
	if n := sampleEvery(cfg.SampleN); n > 0 {
		s := &zerolog.BasicSampler{N: n}
		base = base.Sample(zerolog.LevelSampler{DebugSampler: s, InfoSampler: s})
	}

	zc := base.With().Timestamp()
	if cfg.Service != "" {
		zc = zc.Str("service", cfg.Service)
	}
	if cfg.Component != "" {
		zc = zc.Str("component", cfg.Component)
	}
	return zc.Logger()
}

// FromContext returns a child of parent carrying the fields found in ctx. A
// nil parent yields a discarding logger.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	var base zerolog.Logger
	if parent == nil {
		base = zerolog.New(io.Discard)
	} else {
		base = *parent
	}
	f := fieldsFrom(ctx)
	w := base.With()
	if f.requestID != "" {
		w = w.Str("request_id", f.requestID)
	}
	if f.searchID != "" {
		w = w.Str("search_id", f.searchID)
	}
	if f.token > 0 {
		w = w.Uint64("token", f.token)
	}
	if f.component != "" {
		w = w.Str("component", f.component)
	}
	l := w.Logger()
	return &l
}
