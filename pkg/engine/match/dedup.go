package match

import "github.com/awsnare/awsnare/pkg/errs"

// Dedup decides how a record matching several rules is persisted.
type Dedup string

const (
	// DedupRecord persists each matching record once.
	DedupRecord Dedup = "record"
	// DedupRule persists the record once per matching rule.
	DedupRule Dedup = "rule"
)

// ParseDedup validates a configured policy. Empty means DedupRecord.
func ParseDedup(s string) (Dedup, error) {
	switch Dedup(s) {
	case "", DedupRecord:
		return DedupRecord, nil
	case DedupRule:
		return DedupRule, nil
	}
	return "", errs.Configf("detection.dedup", "unknown policy %q (want record or rule)", s)
}
