// Package rules loads the declarative detection catalog and evaluates rules
// against CloudTrail records.
package rules

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/awsnare/awsnare/pkg/engine/trail"
	"github.com/google/cel-go/cel"
)

// Expectation is the expected value of one field: a single scalar, or a set
// of candidate scalars when IsSet is true.
type Expectation struct {
	Values []any
	IsSet  bool
}

// Scalar builds an equality expectation.
func Scalar(v any) Expectation {
	return Expectation{Values: []any{v}}
}

// OneOf builds a membership expectation.
func OneOf(vs ...any) Expectation {
	return Expectation{Values: vs, IsSet: true}
}

// Satisfied reports whether v meets the expectation. Comparison is
// type-sensitive: "5" never equals 5.
func (e Expectation) Satisfied(v any) bool {
	if !e.IsSet {
		return len(e.Values) == 1 && equal(v, e.Values[0])
	}
	for _, c := range e.Values {
		if equal(v, c) {
			return true
		}
	}
	return false
}

// equal compares a record value with a catalog scalar. Archive numbers
// arrive as json.Number; catalog numbers are float64.
func equal(v, want any) bool {
	if n, ok := v.(json.Number); ok {
		f, isNum := want.(float64)
		if !isNum {
			return false
		}
		got, err := n.Float64()
		return err == nil && got == f
	}
	return reflect.DeepEqual(v, want)
}

// Condition pairs a record field with its expectation.
type Condition struct {
	Field    string
	Expected Expectation
}

// Rule is one entry of the catalog. Rules are immutable once loaded.
type Rule struct {
	Name        string
	Description string
	Logic       []Condition
	// Condition is an optional CEL expression over the variable `record`.
	Condition string

	program cel.Program
}

// Evaluate reports whether rec satisfies every logic condition and, when set,
// the CEL condition. Only fields listed in Logic are inspected.
func (r *Rule) Evaluate(rec trail.Record) (bool, error) {
	for _, c := range r.Logic {
		v, _ := rec.Lookup(c.Field)
		if !c.Expected.Satisfied(v) {
			return false, nil
		}
	}
	if r.program == nil {
		return true, nil
	}

	out, _, err := r.program.Eval(map[string]any{"record": celValue(map[string]any(rec))})
	if err != nil {
		return false, fmt.Errorf("rule %q condition: %w", r.Name, err)
	}
	match, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q condition returned %T, want bool", r.Name, out.Value())
	}
	return match, nil
}

// Matches is Evaluate with evaluation errors treated as no match.
func (r *Rule) Matches(rec trail.Record) bool {
	ok, err := r.Evaluate(rec)
	return err == nil && ok
}
