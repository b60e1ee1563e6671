package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// newLogger builds the CLI logger. It writes to w so command output on stdout
// stays machine readable.
func newLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q (want text or json)", cfg.Format)
}

// spanLogger is a span processor that logs every finished span.
type spanLogger struct {
	logger *slog.Logger
}

func (s spanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (s spanLogger) OnEnd(span sdktrace.ReadOnlySpan) {
	attrs := []slog.Attr{
		slog.String("trace_id", span.SpanContext().TraceID().String()),
		slog.String("status", span.Status().Code.String()),
	}
	for _, kv := range span.Attributes() {
		attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "span "+span.Name(), attrs...)
}

func (s spanLogger) Shutdown(context.Context) error   { return nil }
func (s spanLogger) ForceFlush(context.Context) error { return nil }

// newTracerProvider returns a provider whose spans are written to logger.
func newTracerProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanLogger{logger: logger}))
}

// writeMetrics dumps every metric in reg in the Prometheus text format.
func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
