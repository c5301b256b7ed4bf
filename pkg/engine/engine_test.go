package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/awsnare/awsnare/pkg/engine/history"
	"github.com/awsnare/awsnare/pkg/engine/notifier"
	"github.com/awsnare/awsnare/pkg/engine/trail"
	"github.com/awsnare/awsnare/pkg/errs"
	"github.com/awsnare/awsnare/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	account = "111122223333"
	decoy   = "arn:aws:s3:::snare-finance-prod-42"
)

const catalogDoc = `
rules:
  - name: decoy-read
    description: Object read from a decoy bucket
    logic:
      eventName: [GetObject, HeadObject]
`

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func fixedClock() time.Time {
	return time.Date(2024, 5, 2, 15, 4, 5, 0, time.UTC)
}

func archive(t *testing.T, recs ...trail.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, trail.EncodeArchive(&buf, recs))
	return buf.Bytes()
}

func baitRead() trail.Record {
	return trail.Record{
		"eventName":       "GetObject",
		"eventTime":       "2024-05-01T10:00:00Z",
		"awsRegion":       "us-east-1",
		"sourceIPAddress": "203.0.113.9",
		"resources":       []any{map[string]any{"ARN": decoy}},
	}
}

type fixture struct {
	root    string
	cfg     Config
	store   *storage.LocalStore
	request DetectRequest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	rulesFile := filepath.Join(root, "detection_rules.yaml")
	require.NoError(t, os.WriteFile(rulesFile, []byte(catalogDoc), 0644))

	store := storage.NewLocalStore(filepath.Join(root, "bucket"))
	ctx := context.Background()
	prefix := "AWSLogs/" + account + "/CloudTrail/us-east-1/2024/05/01/"
	require.NoError(t, store.Put(ctx, prefix+"a.json.gz", archive(t,
		baitRead(),
		trail.Record{"eventName": "GetObject", "resources": []any{map[string]any{"ARN": "arn:aws:s3:::assets"}}},
		trail.Record{"eventName": "PutObject", "resources": []any{map[string]any{"ARN": decoy}}},
	)))

	return &fixture{
		root:  root,
		store: store,
		cfg: Config{
			RulesFile:     rulesFile,
			StagingDir:    filepath.Join(root, "staging"),
			OutputDir:     filepath.Join(root, "out"),
			Snares:        []string{decoy},
			SkipTelemetry: true,
			Logger:        quiet,
		},
		request: DetectRequest{
			Fetch:     true,
			Bucket:    "trail-bucket",
			AccountID: account,
			Regions:   []string{"us-east-1"},
			Start:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			End:       time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		},
	}
}

func (f *fixture) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithConfig(f.cfg), WithStore(f.store), WithClock(fixedClock)}, opts...)
	e, err := New(context.Background(), opts...)
	require.NoError(t, err)
	return e
}

func TestDetectEndToEnd(t *testing.T) {
	f := newFixture(t)
	backend, err := history.OpenBolt(filepath.Join(f.root, "history.db"))
	require.NoError(t, err)
	ledger := history.NewClient(backend)
	defer ledger.Close()

	var explained []trail.Explanation
	e := f.engine(t, WithLedger(ledger), WithObserver(func(x trail.Explanation) {
		explained = append(explained, x)
	}))

	res, err := e.Detect(context.Background(), f.request)
	require.NoError(t, err)

	require.Len(t, res.Hits, 1)
	assert.Equal(t, "203.0.113.9", res.Hits[0]["sourceIPAddress"])
	assert.False(t, res.Partial)
	assert.Equal(t, 2, res.Fetch.Partitions)
	assert.Equal(t, 1, res.Fetch.Staged)

	require.Len(t, explained, 1)
	assert.Equal(t, "decoy-read", explained[0].Rule)

	assert.Equal(t, filepath.Join(f.cfg.OutputDir, "detections_20240502_150405.json"), res.ArtifactPath)
	data, err := os.ReadFile(res.ArtifactPath)
	require.NoError(t, err)
	var persisted []map[string]any
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, "GetObject", persisted[0]["eventName"])

	runs, err := ledger.LoadWindow(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, "run", runs[0].Mode)
	assert.Equal(t, "2024-05-01..2024-05-02", runs[0].Window)
	assert.Equal(t, map[string]int{"decoy-read": 1}, runs[0].RuleHits)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.Hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.RuleHits.WithLabelValues("decoy-read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.Runs.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.Metrics.RecordsScanned))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.Metrics.RecordsAdmitted))
}

func TestDetectMissingRulesHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.cfg.RulesFile = filepath.Join(f.root, "absent.yaml")
	e := f.engine(t)

	res, err := e.Detect(context.Background(), f.request)
	require.Error(t, err)
	assert.Nil(t, res)

	var cfgErr *errs.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
	assert.NoDirExists(t, f.cfg.StagingDir)
	assert.NoDirExists(t, f.cfg.OutputDir)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.Runs.WithLabelValues("error")))
}

func TestDetectEmptySnareIsConfigError(t *testing.T) {
	f := newFixture(t)
	f.cfg.Snares = []string{decoy, "  "}

	_, err := f.engine(t).Detect(context.Background(), f.request)
	var cfgErr *errs.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.NoDirExists(t, f.cfg.StagingDir)
}

func TestDetectWithoutSnaresWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.cfg.Snares = nil

	res, err := f.engine(t).Detect(context.Background(), f.request)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Empty(t, res.ArtifactPath)
	assert.NoDirExists(t, f.cfg.OutputDir)
}

func TestDetectFetchRequiresStore(t *testing.T) {
	f := newFixture(t)
	e, err := New(context.Background(), WithConfig(f.cfg))
	require.NoError(t, err)

	_, err = e.Detect(context.Background(), f.request)
	var cfgErr *errs.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestScanOnlyUsesStagedFiles(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.cfg.StagingDir, 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(f.cfg.StagingDir, "us-east-1_2024-05-01_a.json.gz"),
		archive(t, baitRead(), baitRead()), 0644))

	res, err := f.engine(t).Detect(context.Background(), DetectRequest{})
	require.NoError(t, err)
	assert.Nil(t, res.Fetch)
	assert.Len(t, res.Hits, 2)
}

func TestStrictModeReportsPartialResults(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.cfg.StagingDir, 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(f.cfg.StagingDir, "us-east-1_2024-05-01_bad.json.gz"), []byte("not gzip"), 0644))
	require.NoError(t, os.WriteFile(
		filepath.Join(f.cfg.StagingDir, "us-east-1_2024-05-01_good.json.gz"), archive(t, baitRead()), 0644))

	res, err := f.engine(t).Detect(context.Background(), DetectRequest{})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Equal(t, 1, res.ParseFailures)

	f.cfg.StrictMode = true
	later := func() time.Time { return fixedClock().Add(time.Second) }
	res, err = f.engine(t, WithClock(later)).Detect(context.Background(), DetectRequest{})
	assert.ErrorIs(t, err, ErrPartialResult)
	require.NotNil(t, res)
	assert.Len(t, res.Hits, 1)
	assert.FileExists(t, res.ArtifactPath)
}

func TestDetectNotifiesOnHits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	e := f.engine(t, WithNotifier(notifier.NewSlackClient(srv.URL, "")))

	_, err := e.Detect(context.Background(), f.request)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDetectMirrorsArtifact(t *testing.T) {
	f := newFixture(t)
	mirror := storage.NewLocalStore(filepath.Join(f.root, "mirror"))
	e := f.engine(t, WithMirror(mirror))

	res, err := e.Detect(context.Background(), f.request)
	require.NoError(t, err)

	data, err := mirror.Get(context.Background(), filepath.Base(res.ArtifactPath))
	require.NoError(t, err)
	local, err := os.ReadFile(res.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, local, data)
}

func TestMetricsTextfileWritten(t *testing.T) {
	f := newFixture(t)
	f.cfg.MetricsFile = filepath.Join(f.root, "awsnare.prom")

	_, err := f.engine(t).Detect(context.Background(), f.request)
	require.NoError(t, err)

	data, err := os.ReadFile(f.cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "awsnare_hits_total 1")
}

func TestDetectRecordsClampedWindow(t *testing.T) {
	f := newFixture(t)
	backend, err := history.OpenBolt(filepath.Join(f.root, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	ledger := history.NewClient(backend)
	defer ledger.Close()

	f.request.End = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	res, err := f.engine(t, WithLedger(ledger)).Detect(context.Background(), f.request)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if got := res.Fetch.End.Format(time.DateOnly); got != "2024-05-02" {
		t.Errorf("Expected fetch to stop at the clock's today, got %s", got)
	}

	runs, err := ledger.LoadWindow(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].Window != "2024-05-01..2024-05-02" {
		t.Errorf("Expected the scanned window, got %q", runs[0].Window)
	}
}
