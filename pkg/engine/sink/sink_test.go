package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/awsnare/awsnare/pkg/engine/trail"
	"github.com/awsnare/awsnare/pkg/errs"
	"github.com/awsnare/awsnare/pkg/storage"
	"github.com/klauspost/compress/gzip"
)

var completed = time.Date(2024, 5, 1, 9, 4, 5, 0, time.UTC)

func newSink(dir string) *Sink {
	s := New(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Clock = func() time.Time { return completed }
	s.Sleep = func(time.Duration) {}
	return s
}

func hit() trail.Record {
	return trail.Record{
		"eventName": "GetObject",
		"userAgent": "curl/8.0 <scanner> & co",
		"note":      "zoë",
	}
}

func TestPersistEmptyWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	path, err := newSink(dir).Persist(context.Background(), nil)
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if path != "" {
		t.Errorf("Expected no path, got %q", path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Output dir should still be created: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty output dir, got %d entries", len(entries))
	}
}

func TestPersistWritesOneArtifact(t *testing.T) {
	dir := t.TempDir()
	path, err := newSink(dir).Persist(context.Background(), []trail.Record{hit()})
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if want := filepath.Join(dir, "detections_20240501_090405.json"); path != want {
		t.Errorf("Expected path %s, got %s", want, path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 file (no temp leftovers), got %d", len(entries))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	if !strings.HasPrefix(text, "[\n  {\n") {
		t.Errorf("Expected two-space indent, got %q", text[:min(len(text), 12)])
	}
	for _, want := range []string{"<scanner> & co", "zoë"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q unescaped in artifact", want)
		}
	}

	var decoded []trail.Record
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(decoded, []trail.Record{hit()}) {
		t.Errorf("Round trip mismatch: %v", decoded)
	}
}

func TestPersistNeverReplacesArtifact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newSink(dir)
	s.Clock = func() time.Time { return time.Date(2024, 5, 2, 15, 4, 5, 0, time.UTC) }

	first, err := s.Persist(ctx, []trail.Record{{"eventName": "GetObject", "run": "first"}})
	if err != nil {
		t.Fatalf("First Persist failed: %v", err)
	}
	before, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}

	var waits int
	s.Sleep = func(time.Duration) { waits++ }
	second, err := s.Persist(ctx, []trail.Record{{"eventName": "GetObject", "run": "second"}})
	var ioErr *errs.IOError
	if !errors.As(err, &ioErr) || !errors.Is(err, os.ErrExist) {
		t.Fatalf("Expected IOError wrapping ErrExist, got %v", err)
	}
	if second != "" {
		t.Errorf("Expected no path for the rejected batch, got %s", second)
	}
	if waits != publishAttempts-1 {
		t.Errorf("Expected %d waits for the next second, got %d", publishAttempts-1, waits)
	}

	after, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("First artifact changed:\n%s", after)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected only the first artifact and no temp files, got %d entries", len(entries))
	}
}

func TestPersistWaitsForNextSecond(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	now := time.Date(2024, 5, 2, 15, 4, 5, 250*int(time.Millisecond), time.UTC)
	s := newSink(dir)
	s.Clock = func() time.Time { return now }
	s.Sleep = func(d time.Duration) { now = now.Add(d) }

	first, err := s.Persist(ctx, []trail.Record{hit()})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Persist(ctx, []trail.Record{hit()})
	if err != nil {
		t.Fatalf("Second Persist failed: %v", err)
	}
	if first == second {
		t.Fatalf("Both runs reported %s", first)
	}
	if want := filepath.Join(dir, "detections_20240502_150406.json"); second != want {
		t.Errorf("Expected %s, got %s", want, second)
	}
}

func TestEncodeKeepsArchiveNumbers(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"Records": [{"eventName": "GetObject", "bytes": 12345678901234567891}]}`))
	_ = zw.Close()

	records, err := trail.DecodeArchive(&buf)
	if err != nil {
		t.Fatal(err)
	}
	data, err := Encode(records)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(data), `"bytes": 12345678901234567891`) {
		t.Errorf("Large integer not written back verbatim:\n%s", data)
	}
}

func TestPersistUnwritableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := newSink(filepath.Join(blocker, "out")).Persist(context.Background(), []trail.Record{hit()})
	var ioErr *errs.IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("Expected IOError, got %v", err)
	}
}

type failingStore struct{ storage.BlobStore }

func (failingStore) Put(context.Context, string, []byte) error { return errors.New("access denied") }

func TestPersistMirror(t *testing.T) {
	ctx := context.Background()
	remote := storage.NewLocalStore(t.TempDir())

	s := newSink(t.TempDir())
	s.Mirror = storage.Prefixed{Store: remote, Prefix: "awsnare/"}
	path, err := s.Persist(ctx, []trail.Record{hit()})
	if err != nil {
		t.Fatal(err)
	}

	local, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	mirrored, err := remote.Get(ctx, "awsnare/detections_20240501_090405.json")
	if err != nil {
		t.Fatalf("Mirror copy missing: %v", err)
	}
	if !bytes.Equal(local, mirrored) {
		t.Error("Mirror copy differs from local artifact")
	}

	s.Mirror = failingStore{}
	s.Clock = func() time.Time { return completed.Add(time.Second) }
	path, err = s.Persist(ctx, []trail.Record{hit()})
	if err != nil {
		t.Fatalf("Mirror failure should not be fatal: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Local artifact missing: %v", err)
	}
}

func TestName(t *testing.T) {
	got := Name(time.Date(2024, 12, 31, 23, 59, 59, 0, time.Local))
	if got != "detections_20241231_235959.json" {
		t.Errorf("Unexpected name %s", got)
	}
}
