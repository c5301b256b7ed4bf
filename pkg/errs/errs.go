// Package errs defines the failure taxonomy shared by the detection pipeline.
//
// ConfigError and IOError are fatal to a run. FetchError and ParseError are
// scoped to a single object or file; the pipeline records them and keeps going.
package errs

import "fmt"

// ConfigError reports a missing or malformed rule catalog, decoy registry or
// run request.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// FetchError reports a failed enumeration or download of one log object.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a staged archive that could not be decompressed or decoded.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IOError reports a staging or output directory that could not be established.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Config wraps err as a ConfigError for source.
func Config(source string, err error) error {
	return &ConfigError{Source: source, Err: err}
}

// Configf builds a ConfigError from a format string.
func Configf(source, format string, args ...any) error {
	return &ConfigError{Source: source, Err: fmt.Errorf(format, args...)}
}
