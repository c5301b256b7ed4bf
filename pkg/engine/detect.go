package engine

import (
	"context"
	"time"

	"github.com/awsnare/awsnare/pkg/engine/fetch"
	"github.com/awsnare/awsnare/pkg/engine/history"
	"github.com/awsnare/awsnare/pkg/engine/match"
	"github.com/awsnare/awsnare/pkg/engine/notifier"
	"github.com/awsnare/awsnare/pkg/engine/registry"
	"github.com/awsnare/awsnare/pkg/engine/rules"
	"github.com/awsnare/awsnare/pkg/engine/sink"
	"github.com/awsnare/awsnare/pkg/engine/trail"
	"github.com/awsnare/awsnare/pkg/errs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DetectRequest selects what a run does. With Fetch unset the run only
// scans what is already staged.
type DetectRequest struct {
	Fetch      bool
	Bucket     string
	AccountID  string
	Regions    []string
	Start, End time.Time
}

// Result is the outcome of one detection run.
type Result struct {
	RunID        string
	Hits         []trail.Record
	ArtifactPath string
	Fetch        *fetch.Report
	Scan         *match.Result

	FetchFailures int
	ParseFailures int
	Partial       bool
}

// Detect runs the pipeline once. Configuration problems are reported before
// anything is fetched or written. Per-object and per-archive failures are
// counted in the result; in StrictMode they turn into ErrPartialResult.
func (e *Engine) Detect(ctx context.Context, req DetectRequest) (res *Result, err error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Detect")
	defer span.End()
	defer e.recoverPanic(ctx, &err)

	started := e.clock()
	runID := history.NewRunID()
	span.SetAttributes(attribute.String("run.id", runID), attribute.Bool("run.fetch", req.Fetch))

	catalog, err := rules.Load(e.config.RulesFile)
	if err != nil {
		return nil, e.fail(span, err)
	}
	reg, err := registry.New(e.config.Snares, e.config.Prefilter)
	if err != nil {
		return nil, e.fail(span, err)
	}
	dedup, err := match.ParseDedup(string(e.config.Dedup))
	if err != nil {
		return nil, e.fail(span, err)
	}
	if reg.Len() == 0 {
		e.Logger.Warn("No snares configured, every record will be filtered out")
	}
	e.Logger.Info("Starting detection", "run_id", runID, "rules", len(catalog), "snares", reg.Len(),
		"prefilter", reg.Mode(), "concurrency", e.config.MaxConcurrency)

	res = &Result{RunID: runID}

	if req.Fetch {
		if res.Fetch, err = e.fetch(ctx, req); err != nil {
			return nil, e.fail(span, err)
		}
		res.FetchFailures = len(res.Fetch.Failures)
	}

	m := match.New(catalog, reg, e.Logger)
	m.Workers = e.config.MaxConcurrency
	m.Observer = e.observer
	_, scanSpan := e.Tracer.Start(ctx, "Matcher.Scan")
	res.Scan, err = m.Scan(ctx, e.config.StagingDir)
	scanSpan.End()
	if err != nil {
		return nil, e.fail(span, err)
	}
	res.ParseFailures = res.Scan.ParseFailures
	res.Hits = res.Scan.Hits(dedup)

	if len(res.Hits) > 0 {
		out := sink.New(e.config.OutputDir, e.Logger)
		out.Clock = e.clock
		out.Mirror = e.mirror
		if res.ArtifactPath, err = out.Persist(ctx, res.Hits); err != nil {
			return nil, e.fail(span, err)
		}
	}

	res.Partial = res.FetchFailures+res.ParseFailures > 0
	span.SetAttributes(
		attribute.Int("scan.hits", len(res.Hits)),
		attribute.Int("scan.files", res.Scan.Files),
		attribute.Bool("scan.partial", res.Partial),
	)

	e.record(ctx, req, res, started)

	if res.Partial {
		span.SetAttributes(attribute.Int("scan.failures", res.FetchFailures+res.ParseFailures))
		if e.config.StrictMode {
			e.Logger.Error("Strict Mode: Failing due to partial scan results",
				"fetch_failures", res.FetchFailures, "parse_failures", res.ParseFailures)
			return res, ErrPartialResult
		}
		e.Logger.Warn("Detection finished with partial errors (StrictMode=false)",
			"fetch_failures", res.FetchFailures, "parse_failures", res.ParseFailures)
	}
	return res, nil
}

func (e *Engine) fetch(ctx context.Context, req DetectRequest) (*fetch.Report, error) {
	if e.store == nil {
		return nil, errs.Configf("fetch", "no log store configured")
	}
	ctx, span := e.Tracer.Start(ctx, "Fetcher.Fetch")
	defer span.End()

	if e.config.CleanStaging {
		n, err := fetch.Clean(e.config.StagingDir)
		if err != nil {
			return nil, err
		}
		e.Logger.Info("Staging directory cleaned", "dir", e.config.StagingDir, "removed", n)
	}

	f := fetch.New(e.store, e.Logger)
	if e.config.KeyLayout != "" {
		f.Layout = e.config.KeyLayout
	}
	f.Workers = e.config.MaxConcurrency
	f.Validate = e.config.Validate
	f.Clock = e.clock

	return f.Fetch(ctx, fetch.Request{
		Bucket:     req.Bucket,
		AccountID:  req.AccountID,
		Regions:    req.Regions,
		Start:      req.Start,
		End:        req.End,
		StagingDir: e.config.StagingDir,
	})
}

func (e *Engine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.Metrics.Runs.WithLabelValues("error").Inc()
	return err
}

// record feeds metrics, the ledger and the notifier. None of them can fail
// the run.
func (e *Engine) record(ctx context.Context, req DetectRequest, res *Result, started time.Time) {
	finished := e.clock()
	ruleHits := res.Scan.RuleHits()

	m := e.Metrics
	outcome := "ok"
	if res.Partial {
		outcome = "partial"
	}
	m.Runs.WithLabelValues(outcome).Inc()
	if res.Fetch != nil {
		m.Partitions.Add(float64(res.Fetch.Partitions))
		m.ObjectsStaged.Add(float64(res.Fetch.Staged))
		m.FetchFailures.Add(float64(res.FetchFailures))
		m.ValidationFailures.Add(float64(res.Fetch.ValidationFailures))
	}
	m.FilesScanned.Add(float64(res.Scan.Files))
	m.ParseFailures.Add(float64(res.ParseFailures))
	m.RecordsScanned.Add(float64(res.Scan.Records))
	m.RecordsAdmitted.Add(float64(res.Scan.Admitted))
	m.Hits.Add(float64(len(res.Hits)))
	for name, n := range ruleHits {
		m.RuleHits.WithLabelValues(name).Add(float64(n))
	}
	m.RunDuration.Observe(finished.Sub(started).Seconds())
	m.LastRun.Set(float64(finished.Unix()))
	if e.config.MetricsFile != "" {
		if err := m.WriteTextfile(e.config.MetricsFile); err != nil {
			e.Logger.Warn("Metrics textfile not written", "path", e.config.MetricsFile, "error", err)
		}
	}

	window := ""
	if res.Fetch != nil {
		window = res.Fetch.Start.Format(time.DateOnly) + ".." + res.Fetch.End.Format(time.DateOnly)
	}

	if e.History != nil {
		mode := "scan"
		if req.Fetch {
			mode = "run"
		}
		_, err := e.History.Append(history.Run{
			ID:            res.RunID,
			StartedAt:     started,
			FinishedAt:    finished,
			Mode:          mode,
			Window:        window,
			Regions:       req.Regions,
			Files:         res.Scan.Files,
			Records:       res.Scan.Records,
			Hits:          len(res.Hits),
			FetchFailures: res.FetchFailures,
			ParseFailures: res.ParseFailures,
			RuleHits:      ruleHits,
			Artifact:      res.ArtifactPath,
			Partial:       res.Partial,
		})
		if err != nil {
			e.Logger.Warn("Run not recorded in history", "error", err)
		}
	}

	if e.Notifier != nil {
		err := e.Notifier.SendDetectionReport(ctx, notifier.Summary{
			RunID:         res.RunID,
			Account:       req.AccountID,
			Window:        window,
			Hits:          len(res.Hits),
			RuleHits:      ruleHits,
			Artifact:      res.ArtifactPath,
			FetchFailures: res.FetchFailures,
			ParseFailures: res.ParseFailures,
		})
		if err != nil {
			e.Logger.Warn("Slack notification failed", "error", err)
		}
	}
}
