package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogOptions selects the handler built by NewLogger.
type LogOptions struct {
	JSON    bool
	Verbose bool
	Writer  io.Writer
}

// NewLogger returns a slog logger that redacts sensitive attributes.
func NewLogger(o LogOptions) *slog.Logger {
	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: RedactSensitiveData}
	if o.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

var sensitiveKeys = map[string]bool{
	"password": true, "access_key": true, "secret_key": true, "token": true,
	"secret": true, "api_key": true, "private_key": true, "auth_token": true,
	"session_token": true, "refresh_token": true, "certificate": true,
	"signature": true, "credential": true, "ssh_key": true,
	"connection_string": true, "webhook": true, "slack_webhook": true,
}

// RedactSensitiveData scrubs sensitive keys from logs.
func RedactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.Attr{
			Key:   a.Key,
			Value: slog.StringValue("[REDACTED]"),
		}
	}
	return a
}
