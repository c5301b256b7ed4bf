// Package match scans staged CloudTrail archives for records that touch a
// decoy and satisfy at least one detection rule.
package match

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/awsnare/awsnare/pkg/engine/registry"
	"github.com/awsnare/awsnare/pkg/engine/rules"
	"github.com/awsnare/awsnare/pkg/engine/swarm"
	"github.com/awsnare/awsnare/pkg/engine/trail"
	"github.com/awsnare/awsnare/pkg/errs"
)

// Observer receives one explanation per (record, matching rule) pair, in
// file order and then record order.
type Observer func(trail.Explanation)

// Match is one hit together with where it came from and which rules fired.
type Match struct {
	File   string
	Index  int
	Record trail.Record
	Rules  []*rules.Rule
}

// Result is the outcome of one scan.
type Result struct {
	Matches       []Match
	Files         int
	Records       int
	Admitted      int
	ParseFailures int
	// Failures holds one *errs.ParseError per unreadable archive.
	Failures []error
}

// Hits flattens the matches into the batch to persist under policy.
func (r *Result) Hits(policy Dedup) []trail.Record {
	out := make([]trail.Record, 0, len(r.Matches))
	for _, m := range r.Matches {
		if policy == DedupRule {
			for range m.Rules {
				out = append(out, m.Record)
			}
			continue
		}
		out = append(out, m.Record)
	}
	return out
}

// RuleHits counts matched records per rule name.
func (r *Result) RuleHits() map[string]int {
	out := make(map[string]int)
	for _, m := range r.Matches {
		for _, rule := range m.Rules {
			out[rule.Name]++
		}
	}
	return out
}

// Matcher evaluates a rule catalog against staged archives. The catalog and
// registry are shared read-only between workers.
type Matcher struct {
	Rules    []*rules.Rule
	Registry *registry.Registry
	Workers  int
	Logger   *slog.Logger
	Observer Observer
}

// New returns a Matcher with default parallelism.
func New(catalog []*rules.Rule, reg *registry.Registry, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{Rules: catalog, Registry: reg, Workers: 4, Logger: logger}
}

type fileResult struct {
	records  int
	admitted int
	matches  []Match
	err      error
}

// Scan processes every archive in dir. Only an unreadable directory is
// fatal; a malformed archive is recorded as a ParseError and skipped.
func (m *Matcher) Scan(ctx context.Context, dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &errs.IOError{Path: dir, Err: err}
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && trail.IsArchive(e.Name()) {
			files = append(files, e.Name())
		}
	}

	results := make([]fileResult, len(files))
	pool := swarm.NewEngine(m.Workers)
	for i, name := range files {
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			results[i] = m.scanFile(ctx, filepath.Join(dir, name), name)
			return nil
		}); err != nil {
			break
		}
	}
	pool.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Files: len(files)}
	for i, fr := range results {
		if fr.err != nil {
			m.Logger.Error("Archive could not be parsed", "file", files[i], "error", fr.err)
			res.ParseFailures++
			res.Failures = append(res.Failures, &errs.ParseError{File: files[i], Err: fr.err})
			continue
		}
		res.Records += fr.records
		res.Admitted += fr.admitted
		res.Matches = append(res.Matches, fr.matches...)
	}

	if m.Observer != nil {
		for _, hit := range res.Matches {
			for _, rule := range hit.Rules {
				ex := trail.Explain(rule.Name, rule.Description, hit.Record)
				ex.File = hit.File
				m.Observer(ex)
			}
		}
	}

	m.Logger.Info("Scan complete",
		"files", res.Files, "records", res.Records, "admitted", res.Admitted,
		"hits", len(res.Matches), "parse_failures", res.ParseFailures)
	return res, nil
}

func (m *Matcher) scanFile(ctx context.Context, path, name string) fileResult {
	recs, err := trail.ReadArchiveFile(path)
	if err != nil {
		return fileResult{err: err}
	}
	fr := fileResult{records: len(recs)}
	for i, rec := range recs {
		if i%1024 == 0 && ctx.Err() != nil {
			return fr
		}
		if !m.Registry.Admits(rec) {
			continue
		}
		fr.admitted++
		if fired := m.Evaluate(rec); len(fired) > 0 {
			fr.matches = append(fr.matches, Match{File: name, Index: i, Record: rec, Rules: fired})
		}
	}
	return fr
}

// Evaluate returns the rules matching rec, in catalog order. It does not
// apply the decoy pre-filter. Condition errors are logged and count as no
// match.
func (m *Matcher) Evaluate(rec trail.Record) []*rules.Rule {
	var fired []*rules.Rule
	for _, r := range m.Rules {
		ok, err := r.Evaluate(rec)
		if err != nil {
			m.Logger.Warn("Rule condition failed", "rule", r.Name, "error", err)
			continue
		}
		if ok {
			fired = append(fired, r)
		}
	}
	return fired
}
