// Package fetch stages CloudTrail archives from an object store into a flat
// local directory, one file per object.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/awsnare/awsnare/pkg/engine/swarm"
	"github.com/awsnare/awsnare/pkg/engine/trail"
	"github.com/awsnare/awsnare/pkg/errs"
	"github.com/awsnare/awsnare/pkg/storage"
	"github.com/cenkalti/backoff/v4"
)

const partialSuffix = ".partial"

// Request describes one fetch run.
type Request struct {
	// Bucket names the store for logs and error keys.
	Bucket     string
	AccountID  string
	Regions    []string
	Start, End time.Time
	StagingDir string
}

// Report summarizes a fetch run. Start and End are the days actually
// covered, after a future end is clamped to today. Failures holds one
// *errs.FetchError per object or listing that could not be staged.
type Report struct {
	Start, End         time.Time
	Partitions         int
	Objects            int
	Staged             int
	ValidationFailures int
	Files              []string
	Failures           []error
}

// Fetcher downloads the archives of a date range.
type Fetcher struct {
	Store    storage.BlobStore
	Layout   string
	Workers  int
	Validate bool
	Logger   *slog.Logger
	Clock    func() time.Time
	// NewBackOff returns the retry policy for one store call.
	NewBackOff func() backoff.BackOff
}

// New returns a Fetcher with default layout, retry policy and clock.
func New(store storage.BlobStore, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		Store:   store,
		Layout:  DefaultLayout,
		Workers: 8,
		Logger:  logger,
		Clock:   time.Now,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return backoff.WithMaxRetries(b, 4)
		},
	}
}

type object struct {
	part Partition
	key  string
}

// Fetch enumerates every partition of req and stages each object into
// req.StagingDir. Only an unusable request or staging directory is fatal;
// per-object failures are recorded in the report.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Report, error) {
	end := req.End
	today := Day(f.now().UTC())
	if Day(end).After(today) {
		f.Logger.Warn("End date is in the future, clamping to today",
			"end", Day(end).Format(time.DateOnly), "today", today.Format(time.DateOnly))
		end = today
	}
	parts, err := Partitions(req.Start, end, req.Regions)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(req.StagingDir, 0755); err != nil {
		return nil, &errs.IOError{Path: req.StagingDir, Err: err}
	}

	rep := &Report{Start: Day(req.Start), End: Day(end), Partitions: len(parts)}
	var mu sync.Mutex
	fail := func(err error) {
		mu.Lock()
		rep.Failures = append(rep.Failures, err)
		mu.Unlock()
	}

	// Listing and downloading run as two phases so a listing task never
	// waits on a slot held by its own downloads.
	var objects []object
	pool := swarm.NewEngine(f.Workers)
	for _, p := range parts {
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			prefix := p.Key(f.Layout, req.AccountID)
			keys, err := f.list(ctx, prefix)
			if err != nil {
				f.Logger.Error("Partition listing failed", "bucket", req.Bucket, "prefix", prefix, "error", err)
				fail(&errs.FetchError{Key: f.label(req.Bucket, prefix), Err: err})
				return err
			}
			f.Logger.Debug("Partition listed", "partition", p.String(), "objects", len(keys))
			mu.Lock()
			for _, k := range keys {
				if strings.HasSuffix(k, "/") {
					continue
				}
				objects = append(objects, object{part: p, key: k})
			}
			mu.Unlock()
			return nil
		}); err != nil {
			break
		}
	}
	pool.Wait()
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].key < objects[j].key })
	rep.Objects = len(objects)

	for _, o := range objects {
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			name, valid, err := f.stage(ctx, req.StagingDir, o)
			if err != nil {
				f.Logger.Error("Object download failed", "bucket", req.Bucket, "key", o.key, "error", err)
				fail(&errs.FetchError{Key: f.label(req.Bucket, o.key), Err: err})
				return err
			}
			mu.Lock()
			rep.Staged++
			rep.Files = append(rep.Files, name)
			if !valid {
				rep.ValidationFailures++
			}
			mu.Unlock()
			return nil
		}); err != nil {
			break
		}
	}
	pool.Wait()

	sort.Strings(rep.Files)
	f.Logger.Info("Fetch complete",
		"partitions", rep.Partitions, "objects", rep.Objects, "staged", rep.Staged,
		"failures", len(rep.Failures), "validation_failures", rep.ValidationFailures)
	return rep, ctx.Err()
}

func (f *Fetcher) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := f.retry(ctx, func() error {
		var err error
		keys, err = f.Store.List(ctx, prefix)
		return err
	})
	return keys, err
}

// stage downloads one object and writes it under its staged name. The file
// is written to a hidden temp name and renamed, so it is either complete or
// absent.
func (f *Fetcher) stage(ctx context.Context, dir string, o object) (string, bool, error) {
	var data []byte
	err := f.retry(ctx, func() error {
		var err error
		data, err = f.Store.Get(ctx, o.key)
		return err
	})
	if err != nil {
		return "", false, err
	}

	name := StagedName(o.part, o.key)
	if err := writeAtomic(dir, name, data); err != nil {
		return "", false, err
	}

	valid := true
	if f.Validate {
		if _, err := trail.DecodeArchive(bytes.NewReader(data)); err != nil {
			f.Logger.Warn("Staged archive failed validation", "file", name, "error", err)
			valid = false
		}
	}
	return name, valid, nil
}

func (f *Fetcher) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(f.NewBackOff(), ctx)
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, storage.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (f *Fetcher) now() time.Time {
	if f.Clock == nil {
		return time.Now()
	}
	return f.Clock()
}

func (f *Fetcher) label(bucket, key string) string {
	if bucket == "" {
		return key
	}
	return "s3://" + bucket + "/" + key
}

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*"+partialSuffix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Clean removes every regular file from a staging directory, including
// abandoned partial downloads. Subdirectories are left alone.
func Clean(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &errs.IOError{Path: dir, Err: err}
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, &errs.IOError{Path: filepath.Join(dir, e.Name()), Err: err}
		}
		removed++
	}
	return removed, nil
}
