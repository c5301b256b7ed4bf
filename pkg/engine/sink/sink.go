// Package sink persists a scan's hit batch as a timestamped JSON artifact.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/awsnare/awsnare/pkg/engine/trail"
	"github.com/awsnare/awsnare/pkg/errs"
	"github.com/awsnare/awsnare/pkg/storage"
)

// Prefix and TimeLayout form the artifact name detections_YYYYMMDD_HHMMSS.json.
const (
	Prefix     = "detections_"
	TimeLayout = "20060102_150405"
)

// publishAttempts bounds how many seconds Persist waits for a free name.
const publishAttempts = 3

// Sink writes hit batches to a local directory and optionally mirrors them.
type Sink struct {
	Dir    string
	Clock  func() time.Time
	Sleep  func(time.Duration)
	Mirror storage.BlobStore
	Logger *slog.Logger
}

// New returns a Sink writing to dir using the local clock.
func New(dir string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{Dir: dir, Clock: time.Now, Sleep: time.Sleep, Logger: logger}
}

// Name returns the artifact file name for a completion time.
func Name(t time.Time) string {
	return Prefix + t.Format(TimeLayout) + ".json"
}

// Persist writes hits as one artifact and returns its path. An empty batch
// writes nothing and returns "". Each call produces a fresh artifact: an
// existing artifact is never replaced. When the name for the current second
// is taken Persist waits for the next second, and reports an *errs.IOError
// wrapping os.ErrExist if no free name turns up.
func (s *Sink) Persist(ctx context.Context, hits []trail.Record) (string, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", &errs.IOError{Path: s.Dir, Err: err}
	}
	if len(hits) == 0 {
		return "", nil
	}

	data, err := Encode(hits)
	if err != nil {
		return "", fmt.Errorf("encode hits: %w", err)
	}

	name, err := s.publish(data)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, name)
	s.Logger.Info("Hits persisted", "path", path, "hits", len(hits))

	if s.Mirror != nil {
		if err := s.Mirror.Put(ctx, name, data); err != nil {
			s.Logger.Error("Artifact mirror failed", "file", name, "error", err)
		} else {
			s.Logger.Info("Artifact mirrored", "file", name)
		}
	}
	return path, nil
}

// Encode renders hits as an indented JSON list without HTML or ASCII escaping.
func Encode(hits []trail.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(hits); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Sink) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

func (s *Sink) sleep(d time.Duration) {
	if s.Sleep == nil {
		time.Sleep(d)
		return
	}
	s.Sleep(d)
}

func (s *Sink) publish(data []byte) (string, error) {
	var path string
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			s.sleep(time.Second - time.Duration(s.now().Nanosecond()))
		}
		name := Name(s.now())
		path = filepath.Join(s.Dir, name)
		err := writeExclusive(s.Dir, name, data)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", &errs.IOError{Path: path, Err: err}
		}
		s.Logger.Warn("Artifact name taken, waiting for the next second", "path", path)
	}
	return "", &errs.IOError{Path: path, Err: os.ErrExist}
}

// writeExclusive stages data in a temp file and hard-links it into place, so
// readers never see a partial artifact and an existing one is left alone.
func writeExclusive(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	defer os.Remove(tmpName)
	return os.Link(tmpName, filepath.Join(dir, name))
}
