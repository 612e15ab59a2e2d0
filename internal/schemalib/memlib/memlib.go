// Package memlib is an in-memory reference implementation of
// schemalib.Library, sufficient to exercise internal/validator and
// internal/editdiff in tests without a real YANG/XPath engine. It supports
// exact-path XPath evaluation and a small declarative rule set for
// leafref and instance-identifier validation, modeled directly on the
// end-to-end scenarios of spec §8. It has no "when" rules and reports no
// induced changes.
package memlib

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/schemalib"
)

// LeafrefRule declares that SourcePath, when present in SourceModule's
// tree, must resolve to an existing value at TargetPath in TargetModule.
type LeafrefRule struct {
	SourceModule, SourcePath string
	TargetModule, TargetPath string
}

// InstanceIdentifierRule declares that SourcePath's runtime string value
// names a path in TargetModule that must exist.
type InstanceIdentifierRule struct {
	SourceModule, SourcePath string
	TargetModule            string
}

// Library is a small, declarative stand-in for a real schema engine.
type Library struct {
	Leafrefs  []LeafrefRule
	InstIDs   []InstanceIdentifierRule
}

// New returns an empty Library; callers append rules before use.
func New() *Library {
	return &Library{}
}

// Parse decodes the opaque byte container as JSON {path: value}, since no
// real on-disk tree format is in scope (spec §6: "opaque binary produced
// by the schema library's tree serializer").
func (l *Library) Parse(module string, data []byte) (*editdiff.Tree, error) {
	t := editdiff.NewTree()
	if len(data) == 0 {
		return t, nil
	}
	raw := make(map[string]any)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("memlib: parse %s: %w", module, err)
	}
	for k, v := range raw {
		t.Values[k] = editdiff.Value{Data: v}
	}
	return t, nil
}

// Serialize encodes tree as JSON {path: value}.
func (l *Library) Serialize(module string, tree *editdiff.Tree) ([]byte, error) {
	raw := make(map[string]any, len(tree.Values))
	for k, v := range tree.Values {
		raw[k] = v.Data
	}
	return json.Marshal(raw)
}

// EvaluateXPath treats xpath as an exact path or a "prefix/*" wildcard.
func (l *Library) EvaluateXPath(tree *editdiff.Tree, xpath string) ([]string, error) {
	var out []string
	if strings.HasSuffix(xpath, "/*") {
		prefix := strings.TrimSuffix(xpath, "*")
		for path := range tree.Values {
			if strings.HasPrefix(path, prefix) {
				out = append(out, path)
			}
		}
		return out, nil
	}
	if _, ok := tree.Get(xpath); ok {
		out = append(out, xpath)
	}
	return out, nil
}

// AtomizeXPath extracts the module prefix from paths shaped "/module:leaf".
func (l *Library) AtomizeXPath(xpath string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, segment := range strings.Split(xpath, "/") {
		if segment == "" {
			continue
		}
		if idx := strings.Index(segment, ":"); idx > 0 {
			mod := segment[:idx]
			if _, ok := seen[mod]; !ok {
				seen[mod] = struct{}{}
				out = append(out, mod)
			}
		}
	}
	return out, nil
}

// Validate checks every declared leafref and instance-identifier rule
// against the supplied forest, restricted to modules.
func (l *Library) Validate(forest map[string]*editdiff.Tree, modules []string, policy schemalib.PolicyFlags) (schemalib.ValidationResult, error) {
	inScope := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		inScope[m] = struct{}{}
	}

	var result schemalib.ValidationResult
	for _, rule := range l.Leafrefs {
		if _, ok := inScope[rule.SourceModule]; !ok {
			continue
		}
		src, ok := forest[rule.SourceModule]
		if !ok {
			continue
		}
		if _, present := src.Get(rule.SourcePath); !present {
			continue
		}
		tgt, ok := forest[rule.TargetModule]
		if !ok {
			tgt = editdiff.NewTree()
		}
		if _, present := tgt.Get(rule.TargetPath); !present {
			result.Issues = append(result.Issues, schemalib.Issue{
				Message: fmt.Sprintf("leafref %s -> %s:%s does not resolve", rule.SourcePath, rule.TargetModule, rule.TargetPath),
				XPath:   rule.SourcePath,
			})
		}
	}

	for _, rule := range l.InstIDs {
		if _, ok := inScope[rule.SourceModule]; !ok {
			continue
		}
		src, ok := forest[rule.SourceModule]
		if !ok {
			continue
		}
		v, present := src.Get(rule.SourcePath)
		if !present {
			continue
		}
		targetPath, _ := v.Data.(string)
		if targetPath == "" {
			continue
		}
		tgt, ok := forest[rule.TargetModule]
		if !ok {
			tgt = editdiff.NewTree()
		}
		if _, present := tgt.Get(targetPath); !present {
			result.Issues = append(result.Issues, schemalib.Issue{
				Message: fmt.Sprintf("instance-identifier %s -> %s:%s does not resolve", rule.SourcePath, rule.TargetModule, targetPath),
				XPath:   rule.SourcePath,
			})
		}
	}

	return result, nil
}
