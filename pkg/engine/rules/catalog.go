package rules

import (
	"errors"
	"fmt"
	"os"

	"github.com/awsnare/awsnare/pkg/errs"
	"gopkg.in/yaml.v3"
)

type catalogDoc struct {
	Rules yaml.Node `yaml:"rules"`
}

type ruleDoc struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Logic       yaml.Node `yaml:"logic"`
	Condition   string    `yaml:"condition"`
}

// Load reads the rule catalog at path. It is re-read on every call.
//
// A missing `rules` key yields an empty catalog. Every other defect (absent
// file, unreadable file, document that is not a mapping, malformed rule)
// is reported as *errs.ConfigError.
func Load(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Config(path, err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, errs.Config(path, err)
	}
	return rules, nil
}

// Parse decodes a catalog document.
func Parse(data []byte) ([]*Rule, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty rule catalog")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("rule catalog must be a mapping")
	}

	var cat catalogDoc
	if err := root.Decode(&cat); err != nil {
		return nil, fmt.Errorf("invalid rule catalog: %w", err)
	}

	switch {
	case cat.Rules.Kind == 0:
		return []*Rule{}, nil
	case cat.Rules.Kind == yaml.ScalarNode && cat.Rules.Tag == "!!null":
		return []*Rule{}, nil
	case cat.Rules.Kind != yaml.SequenceNode:
		return nil, fmt.Errorf("line %d: rules must be a sequence", cat.Rules.Line)
	}

	var compiler *conditionCompiler
	out := make([]*Rule, 0, len(cat.Rules.Content))
	for i, item := range cat.Rules.Content {
		r, err := parseRule(item)
		if err != nil {
			return nil, fmt.Errorf("rule %d (line %d): %w", i, item.Line, err)
		}
		if r.Condition != "" {
			if compiler == nil {
				if compiler, err = newConditionCompiler(); err != nil {
					return nil, err
				}
			}
			if r.program, err = compiler.Compile(r.Condition); err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func parseRule(node *yaml.Node) (*Rule, error) {
	if node.Kind != yaml.MappingNode {
		return nil, errors.New("rule must be a mapping")
	}
	var rd ruleDoc
	if err := node.Decode(&rd); err != nil {
		return nil, err
	}
	if rd.Name == "" {
		return nil, errors.New("name is required")
	}
	if rd.Logic.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("rule %q: logic must be a mapping", rd.Name)
	}

	r := &Rule{
		Name:        rd.Name,
		Description: rd.Description,
		Condition:   rd.Condition,
		Logic:       make([]Condition, 0, len(rd.Logic.Content)/2),
	}
	for i := 0; i+1 < len(rd.Logic.Content); i += 2 {
		key, val := rd.Logic.Content[i], rd.Logic.Content[i+1]
		exp, err := parseExpectation(val)
		if err != nil {
			return nil, fmt.Errorf("rule %q field %q: %w", rd.Name, key.Value, err)
		}
		r.Logic = append(r.Logic, Condition{Field: key.Value, Expected: exp})
	}
	return r, nil
}

func parseExpectation(node *yaml.Node) (Expectation, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		v, err := decodeScalar(node)
		if err != nil {
			return Expectation{}, err
		}
		return Scalar(v), nil
	case yaml.SequenceNode:
		values := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return Expectation{}, errors.New("set members must be scalars")
			}
			v, err := decodeScalar(item)
			if err != nil {
				return Expectation{}, err
			}
			values = append(values, v)
		}
		return OneOf(values...), nil
	default:
		return Expectation{}, errors.New("expected a scalar or a sequence of scalars")
	}
}

// decodeScalar decodes a YAML scalar into the shape encoding/json would
// produce for the same literal, so integers become float64.
func decodeScalar(node *yaml.Node) (any, error) {
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return v, nil
}
