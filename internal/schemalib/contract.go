// Package schemalib defines the port through which the core consumes the
// external schema/data-tree library named in spec §6 ("Schema library
// contract (consumed, not provided)"): parsing/serialization, XPath
// evaluation and static atomization, forest validation, and tree diffing.
//
// Nothing in this package implements a real YANG/XPath engine; that is
// explicitly out of scope (spec §1). internal/schemalib/memlib provides an
// in-memory reference implementation sufficient to exercise
// internal/validator and internal/editdiff in tests without one.
package schemalib

import "github.com/sr-shim/shimrepo/internal/editdiff"

// PolicyFlags is the validation policy bundle of spec §6: "{config-only,
// when-auto-delete, emit-val-diff}".
type PolicyFlags struct {
	ConfigOnly     bool
	WhenAutoDelete bool
	EmitValDiff    bool
}

// Issue is a single validation failure, carrying an optional XPath
// locating the offending node (spec §7 "a list of (message, xpath?)
// entries").
type Issue struct {
	Message string
	XPath   string
}

// ValidationResult is the outcome of Library.Validate: either ok (Issues
// is empty) or validation_failed, optionally accompanied by a supplemental
// diff of schema-library-induced changes when PolicyFlags.EmitValDiff (and
// the caller's finish_diff flag) requested it.
type ValidationResult struct {
	Issues         []Issue
	InducedChanges map[string]*editdiff.Diff // per-module supplemental diff
}

// Library is the schema/data-tree library contract consumed by
// internal/editdiff and internal/validator.
type Library interface {
	// Parse deserializes a module's persisted byte container into a Tree.
	Parse(module string, data []byte) (*editdiff.Tree, error)

	// Serialize produces the byte container persisted to
	// "{repo_root}/data/{module_name}.{datastore}" (spec §6).
	Serialize(module string, tree *editdiff.Tree) ([]byte, error)

	// EvaluateXPath evaluates an XPath over a tree, returning the matched
	// node paths.
	EvaluateXPath(tree *editdiff.Tree, xpath string) ([]string, error)

	// AtomizeXPath statically atomizes an XPath into the set of schema
	// modules it references, without evaluating it against any data.
	AtomizeXPath(xpath string) ([]string, error)

	// Validate validates the forest (one tree per module) restricted to
	// the given module list, under the given policy.
	Validate(forest map[string]*editdiff.Tree, modules []string, policy PolicyFlags) (ValidationResult, error)
}
