// Package engine wires the detection pipeline: rule catalog, decoy registry,
// log fetch, matching and the hit sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/awsnare/awsnare/pkg/engine/history"
	"github.com/awsnare/awsnare/pkg/engine/match"
	"github.com/awsnare/awsnare/pkg/engine/notifier"
	"github.com/awsnare/awsnare/pkg/engine/registry"
	"github.com/awsnare/awsnare/pkg/storage"
	"github.com/awsnare/awsnare/pkg/telemetry"
	"github.com/awsnare/awsnare/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrPartialResult indicates the run completed but some objects or archives were skipped.
var ErrPartialResult = errors.New("detection completed with partial results")

// Config holds engine settings.
type Config struct {
	RulesFile  string
	StagingDir string
	OutputDir  string
	KeyLayout  string

	// Snares is the decoy registry. The engine never mutates it.
	Snares    []string
	Prefilter registry.Mode
	Dedup     match.Dedup

	MaxConcurrency int
	Validate       bool
	// CleanStaging empties the staging directory before fetching.
	CleanStaging bool

	// StrictMode forces a non-zero exit code on partial failures.
	StrictMode bool

	// Telemetry config.
	OtelEndpoint  string // "http://localhost:4318" or via env
	SkipTelemetry bool   // Set true if embedding in an app that already has OTEL
	MetricsFile   string // node_exporter textfile, empty to disable

	// Dependencies.
	Logger *slog.Logger
}

// Engine is the runtime core.
type Engine struct {
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Metrics  *telemetry.Metrics
	History  *history.Client
	Notifier *notifier.SlackClient

	config   Config
	store    storage.BlobStore
	mirror   storage.BlobStore
	observer match.Observer
	clock    func() time.Time
	shutdown func(context.Context) error
}

// Option defines a functional configuration override.
type Option func(*Engine)

// New initializes the Engine.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: telemetry.RedactSensitiveData,
	})
	e := &Engine{
		Logger:  slog.New(handler),
		Tracer:  otel.Tracer(version.AppName + "/engine"),
		Metrics: telemetry.NewMetrics(),
		clock:   time.Now,
		config: Config{
			StagingDir:     "logs_cloudtrail",
			OutputDir:      "logs_detections",
			MaxConcurrency: 8,
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	if !e.config.SkipTelemetry {
		shutdown, err := telemetry.Init(ctx, version.AppName, version.Current, e.config.OtelEndpoint)
		if err != nil {
			e.Logger.Warn("Telemetry failed", "error", err)
		} else {
			e.shutdown = shutdown
			e.Tracer = telemetry.Tracer(version.AppName + "/engine")
		}
	}

	return e, nil
}

// Close flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	if e.shutdown == nil {
		return nil
	}
	return e.shutdown(ctx)
}

// WithConfig sets raw config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.StagingDir == "" {
			cfg.StagingDir = e.config.StagingDir
		}
		if cfg.OutputDir == "" {
			cfg.OutputDir = e.config.OutputDir
		}
		if cfg.MaxConcurrency <= 0 {
			cfg.MaxConcurrency = e.config.MaxConcurrency
		}
		e.config = cfg
		if cfg.Logger != nil {
			e.Logger = cfg.Logger
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.Logger = l
		}
	}
}

// WithConcurrency sets the worker limit for fetching and scanning.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.config.MaxConcurrency = n
		}
	}
}

// WithStore sets the object store archives are fetched from.
func WithStore(s storage.BlobStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithMirror sets a store that receives a copy of every artifact.
func WithMirror(s storage.BlobStore) Option {
	return func(e *Engine) {
		e.mirror = s
	}
}

// WithObserver receives one explanation per matching (record, rule) pair.
func WithObserver(o match.Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithClock overrides the clock used for artifact names and date clamping.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// WithLedger records every run in the given history.
func WithLedger(h *history.Client) Option {
	return func(e *Engine) {
		e.History = h
	}
}

// WithNotifier posts run summaries with hits to Slack.
func WithNotifier(n *notifier.SlackClient) Option {
	return func(e *Engine) {
		e.Notifier = n
	}
}

// WithMetrics replaces the metric set, for callers sharing a registry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.Metrics = m
		}
	}
}

// recoverPanic converts a panic in a run into an error on the span and the
// returned error.
func (e *Engine) recoverPanic(ctx context.Context, errp *error) {
	if r := recover(); r != nil {
		_, span := e.Tracer.Start(ctx, "CriticalPanic")

		stack := debug.Stack()
		span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "CRITICAL FAILURE")
		span.SetAttributes(
			attribute.String("crash.stack", string(stack)),
			attribute.String("crash.reason", fmt.Sprintf("%v", r)),
		)
		span.End()

		e.Logger.Error("CRITICAL FAILURE", "error", r, "stack", string(stack))
		*errp = fmt.Errorf("detection panicked: %v", r)
	}
}
