// Package storage abstracts the object stores the detector reads CloudTrail
// archives from and mirrors detection artifacts to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// BlobStore defines the interface for abstract storage backends.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key under prefix, exhausting pagination.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Location is a parsed "s3://bucket/prefix" address.
type Location struct {
	Bucket string
	Prefix string
}

// ParseLocation parses an s3:// URL. The prefix never starts with a slash and
// is either empty or ends with one.
func ParseLocation(raw string) (Location, error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return Location{}, fmt.Errorf("location %q: scheme must be s3://", raw)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("location %q: missing bucket", raw)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return Location{Bucket: bucket, Prefix: prefix}, nil
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Prefix
}

// Prefixed scopes every key of an underlying store under a fixed prefix.
type Prefixed struct {
	Store  BlobStore
	Prefix string
}

func (p Prefixed) key(k string) string {
	if p.Prefix == "" {
		return k
	}
	return path.Join(p.Prefix, k)
}

func (p Prefixed) Put(ctx context.Context, key string, data []byte) error {
	return p.Store.Put(ctx, p.key(key), data)
}

func (p Prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Store.Get(ctx, p.key(key))
}

func (p Prefixed) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.Store.List(ctx, p.key(prefix))
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(p.Prefix, "/")
	if base == "" {
		return keys, nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, base+"/"))
	}
	return out, nil
}
