// Package trail models CloudTrail audit records and the gzip archives that
// carry them.
package trail

import (
	"fmt"
	"strings"
)

// Record is one decoded CloudTrail event. Values keep the shapes produced by
// encoding/json with UseNumber: string, json.Number, bool, nil,
// map[string]any and []any.
type Record map[string]any

// Lookup returns the value stored at field. A literal top-level key wins;
// otherwise a dotted path such as "userIdentity.type" descends nested objects.
// Absent fields report ok=false and a nil value.
func (r Record) Lookup(field string) (any, bool) {
	if v, ok := r[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}

	var cur any = map[string]any(r)
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Text returns the value at path rendered as a string, or "" when absent or null.
func (r Record) Text(path string) string {
	v, ok := r.Lookup(path)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ResourceARNs returns up to limit ARNs from the record's resources list.
// A limit of zero or less returns all of them.
func (r Record) ResourceARNs(limit int) []string {
	list, _ := r["resources"].([]any)
	var out []string
	for _, item := range list {
		if limit > 0 && len(out) == limit {
			break
		}
		res, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if arn, ok := res["ARN"].(string); ok && arn != "" {
			out = append(out, arn)
		}
	}
	return out
}

// ActorName returns the optional sub-identity name of the caller.
func (r Record) ActorName() string {
	if name := r.Text("userIdentity.userName"); name != "" {
		return name
	}
	return r.Text("userIdentity.sessionContext.sessionIssuer.userName")
}
