// Package registry is the read-only view of decoy ("snare") identifiers used
// by the matcher's global pre-filter.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/awsnare/awsnare/pkg/engine/trail"
	"github.com/awsnare/awsnare/pkg/errs"
)

// Mode selects which part of a record is serialized before searching it.
type Mode string

const (
	// ModeFields searches only the fields that carry resource identifiers.
	ModeFields Mode = "fields"
	// ModeFull searches the entire record. Cost is O(record size) per decoy.
	ModeFull Mode = "full"
)

// SearchFields is the record subset serialized in ModeFields.
var SearchFields = []string{
	"resources",
	"requestParameters",
	"responseElements",
	"additionalEventData",
	"serviceEventDetails",
}

// Source supplies the current decoy identifiers.
type Source interface {
	SnareARNs() []string
}

// Registry holds decoy identifiers for the duration of one scan. It is never
// mutated after construction and is safe for concurrent use.
type Registry struct {
	ids  []string
	mode Mode
}

// New builds a registry from ids. Empty identifiers are rejected since they
// would admit every record.
func New(ids []string, mode Mode) (*Registry, error) {
	switch mode {
	case "":
		mode = ModeFields
	case ModeFields, ModeFull:
	default:
		return nil, errs.Configf("registry", "unknown prefilter mode %q", mode)
	}

	out := make([]string, 0, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, errs.Configf("registry", "decoy identifier %d is empty", i)
		}
		out = append(out, id)
	}
	return &Registry{ids: out, mode: mode}, nil
}

// FromSource reads the identifiers currently held by src.
func FromSource(src Source, mode Mode) (*Registry, error) {
	return New(src.SnareARNs(), mode)
}

// Len returns the number of decoy identifiers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ids)
}

// IDs returns a copy of the identifiers.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Mode returns the serialization mode.
func (r *Registry) Mode() Mode { return r.mode }

// Admits is the global pre-filter: it reports whether the serialized record
// mentions at least one decoy identifier. With no decoys nothing is admitted.
func (r *Registry) Admits(rec trail.Record) bool {
	if r == nil || len(r.ids) == 0 {
		return false
	}
	text, err := r.Serialize(rec)
	if err != nil {
		return false
	}
	for _, id := range r.ids {
		if strings.Contains(text, id) {
			return true
		}
	}
	return false
}

// Serialize renders the searched portion of rec as JSON text. Output is
// deterministic: map keys are sorted and HTML characters are not escaped.
func (r *Registry) Serialize(rec trail.Record) (string, error) {
	var subject any = map[string]any(rec)
	if r.mode == ModeFields {
		subset := make(map[string]any, len(SearchFields))
		for _, f := range SearchFields {
			if v, ok := rec[f]; ok && v != nil {
				subset[f] = v
			}
		}
		subject = subset
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(subject); err != nil {
		return "", fmt.Errorf("serialize record: %w", err)
	}
	return buf.String(), nil
}
