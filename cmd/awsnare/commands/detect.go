package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/awsnare/awsnare/pkg/config"
	"github.com/awsnare/awsnare/pkg/engine"
	awsclient "github.com/awsnare/awsnare/pkg/engine/aws"
	"github.com/awsnare/awsnare/pkg/engine/fetch"
	"github.com/awsnare/awsnare/pkg/engine/history"
	"github.com/awsnare/awsnare/pkg/engine/match"
	"github.com/awsnare/awsnare/pkg/engine/notifier"
	"github.com/awsnare/awsnare/pkg/engine/registry"
	"github.com/awsnare/awsnare/pkg/engine/trail"
	"github.com/awsnare/awsnare/pkg/errs"
	"github.com/awsnare/awsnare/pkg/storage"
	"github.com/awsnare/awsnare/pkg/telemetry"
	"github.com/spf13/cobra"
)

type detectFlags struct {
	start, end string
	lookback   int
	regions    []string
	bucket     string
	account    string
	trailName  string
	workers    int
	strict     bool
	validate   bool
	clean      bool
	staging    string
}

var detectOpts detectFlags

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Fetch CloudTrail logs and match them against the rule catalog",
}

var detectRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Download the log window, scan it and save hits",
	Long: `Download every CloudTrail archive for the configured regions and date
window into the staging directory, then scan it.

Example:
  awsnare detect run --start 2024-05-01 --end 2024-05-07 --region us-east-1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetect(cmd, true)
	},
}

var detectScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan archives already in the staging directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetect(cmd, false)
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.AddCommand(detectRunCmd, detectScanCmd)

	for _, c := range []*cobra.Command{detectRunCmd, detectScanCmd} {
		c.Flags().IntVar(&detectOpts.workers, "workers", 0, "Parallel downloads and scans (default from config)")
		c.Flags().BoolVar(&detectOpts.strict, "strict", false, "Exit non-zero when any object or archive was skipped")
		c.Flags().StringVar(&detectOpts.staging, "staging-dir", "", "Staging directory (default from config)")
	}

	f := detectRunCmd.Flags()
	f.StringVar(&detectOpts.start, "start", "", "First day of the window, YYYY-MM-DD")
	f.StringVar(&detectOpts.end, "end", "", "Last day of the window, YYYY-MM-DD (default today)")
	f.IntVar(&detectOpts.lookback, "lookback", -1, "Days before --end to include when --start is not set")
	f.StringSliceVar(&detectOpts.regions, "region", nil, "Region to fetch, repeatable (default from config)")
	f.StringVar(&detectOpts.bucket, "bucket", "", "CloudTrail bucket (default: trail_bucket or the trail's bucket)")
	f.StringVar(&detectOpts.account, "account", "", "Account ID in the log keys (default: account_id or STS)")
	f.StringVar(&detectOpts.trailName, "trail", "", "Trail to resolve the bucket from (default trail_name)")
	f.BoolVar(&detectOpts.validate, "validate", false, "Decode every downloaded archive and count corrupt ones")
	f.BoolVar(&detectOpts.clean, "clean", false, "Empty the staging directory before downloading")
	_ = detectRunCmd.RegisterFlagCompletionFunc("region", regionCompletion)
}

func runDetect(cmd *cobra.Command, doFetch bool) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	applyDetectFlags(cmd, s)
	if err := s.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewLogger(telemetry.LogOptions{
		JSON:    jsonLogs || s.Telemetry.JSONLogs,
		Verbose: verbose,
		Writer:  os.Stderr,
	})
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	cfg := engineConfig(s)
	cfg.Logger = logger
	cfg.CleanStaging = detectOpts.clean
	opts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithObserver(func(x trail.Explanation) { printExplanation(out, x) }),
	}

	var req engine.DetectRequest
	var client *awsclient.Client
	if doFetch || s.Detection.ArtifactMirror != "" {
		client, err = awsclient.NewClient(ctx, s.DefaultRegion, profile, verbose, logger)
		if err != nil {
			return err
		}
	}
	if doFetch {
		target, err := resolveRequest(ctx, cmd, s, client, logger, &req)
		if err != nil {
			return err
		}
		if target.layout != "" {
			cfg.KeyLayout = target.layout
			opts[0] = engine.WithConfig(cfg)
		}
		opts = append(opts, engine.WithStore(storage.NewS3Store(client.GetConfigForRegion(target.region), req.Bucket, s3Options()...)))
	}

	if s.Detection.ArtifactMirror != "" {
		loc, err := storage.ParseLocation(s.Detection.ArtifactMirror)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithMirror(storage.Prefixed{
			Store:  storage.NewS3Store(client.Config, loc.Bucket, s3Options()...),
			Prefix: loc.Prefix,
		}))
	}

	if ledger := openLedger(s, logger); ledger != nil {
		defer ledger.Close()
		opts = append(opts, engine.WithLedger(ledger))
	}
	if s.Notify.SlackWebhook != "" {
		opts = append(opts, engine.WithNotifier(notifier.NewSlackClient(s.Notify.SlackWebhook, s.Notify.SlackChannel)))
	}

	e, err := engine.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Close(shutdownCtx)
	}()

	res, err := e.Detect(ctx, req)
	printSummary(out, res)
	if errors.Is(err, engine.ErrPartialResult) {
		return fmt.Errorf("strict mode: %w", err)
	}
	return err
}

// applyDetectFlags lets command-line flags override the loaded settings.
func applyDetectFlags(cmd *cobra.Command, s *config.Settings) {
	f := cmd.Flags()
	if f.Changed("workers") {
		s.Detection.Workers = detectOpts.workers
	}
	if f.Changed("strict") {
		s.Detection.Strict = detectOpts.strict
	}
	if f.Changed("staging-dir") {
		s.Detection.StagingDir = detectOpts.staging
	}
	if f.Changed("validate") {
		s.Detection.Validate = detectOpts.validate
	}
	if f.Changed("region") {
		s.Regions = detectOpts.regions
	}
	if f.Changed("bucket") {
		s.TrailBucket = detectOpts.bucket
	}
	if f.Changed("account") {
		s.AccountID = detectOpts.account
	}
	if f.Changed("trail") {
		s.TrailName = detectOpts.trailName
	}
	if f.Changed("lookback") {
		s.Detection.LookbackDays = detectOpts.lookback
	}
}

func engineConfig(s *config.Settings) engine.Config {
	d := s.Detection
	return engine.Config{
		RulesFile:      d.RulesFile,
		StagingDir:     d.StagingDir,
		OutputDir:      d.OutputDir,
		KeyLayout:      d.KeyLayout,
		Snares:         s.SnareARNs(),
		Prefilter:      registry.Mode(d.Prefilter),
		Dedup:          match.Dedup(d.Dedup),
		MaxConcurrency: d.Workers,
		Validate:       d.Validate,
		StrictMode:     d.Strict,
		OtelEndpoint:   s.Telemetry.OtelEndpoint,
		SkipTelemetry:  s.Telemetry.OtelEndpoint == "" && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "",
		MetricsFile:    s.Telemetry.MetricsFile,
	}
}

// s3Options switches to path-style addressing for local endpoints
// (LocalStack, MinIO).
func s3Options() []func(*s3.Options) {
	if os.Getenv("AWS_ENDPOINT_URL") == "" {
		return nil
	}
	return []func(*s3.Options){func(o *s3.Options) { o.UsePathStyle = true }}
}

type fetchTarget struct {
	layout string
	region string
}

// resolveRequest fills the date window, regions, account and bucket. The
// account falls back to STS and the bucket to the configured trail.
func resolveRequest(ctx context.Context, cmd *cobra.Command, s *config.Settings, client *awsclient.Client, logger *slog.Logger, req *engine.DetectRequest) (fetchTarget, error) {
	start, end, err := window(time.Now(), s.Detection.LookbackDays)
	if err != nil {
		return fetchTarget{}, err
	}
	req.Fetch = true
	req.Start, req.End = start, end

	req.Regions = s.Regions
	if len(req.Regions) == 0 {
		req.Regions = []string{s.DefaultRegion}
	}

	req.AccountID = s.AccountID
	if req.AccountID == "" {
		if req.AccountID, err = client.VerifyIdentity(ctx); err != nil {
			return fetchTarget{}, err
		}
		logger.Info("Resolved account from caller identity", "account_id", req.AccountID)
	}

	target := fetchTarget{region: s.TrailRegion}
	req.Bucket = s.TrailBucket
	if req.Bucket == "" {
		if s.TrailName == "" {
			return fetchTarget{}, errs.Configf("trail_bucket", "set trail_bucket or trail_name, or pass --bucket")
		}
		ct := awsclient.NewCloudTrailClient(client.GetConfigForRegion(s.TrailRegion))
		t, err := ct.DescribeTrail(ctx, s.TrailName)
		if err != nil {
			return fetchTarget{}, err
		}
		req.Bucket = t.Bucket
		target.layout = t.Layout(s.Detection.KeyLayout)
		if target.region == "" {
			target.region = t.HomeRegion
		}
		logger.Info("Resolved trail bucket", "trail", t.Name, "bucket", t.Bucket, "prefix", t.KeyPrefix)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Fetching %s..%s for %v from s3://%s\n",
		start.Format(time.DateOnly), end.Format(time.DateOnly), req.Regions, req.Bucket)
	return target, nil
}

// window parses --start/--end, defaulting to the lookback window ending today.
func window(now time.Time, lookback int) (time.Time, time.Time, error) {
	start, end := fetch.Window(now, lookback)
	if detectOpts.end != "" {
		t, err := time.Parse(time.DateOnly, detectOpts.end)
		if err != nil {
			return start, end, errs.Config("--end", err)
		}
		end = t
		start = end.AddDate(0, 0, -lookback)
	}
	if detectOpts.start != "" {
		t, err := time.Parse(time.DateOnly, detectOpts.start)
		if err != nil {
			return start, end, errs.Config("--start", err)
		}
		start = t
	}
	return start, end, nil
}

// openLedger opens the run history. A ledger that cannot be opened only
// disables history.
func openLedger(s *config.Settings, logger *slog.Logger) *history.Client {
	path := s.Detection.HistoryDB
	if path == "" {
		var err error
		if path, err = history.GetLedgerPath(); err != nil {
			logger.Warn("History disabled", "error", err)
			return nil
		}
	}
	backend, err := history.OpenBolt(path)
	if err != nil {
		logger.Warn("History disabled", "path", path, "error", err)
		return nil
	}
	return history.NewClient(backend)
}
