// Package validator implements the validator of spec §4.F: attaching a
// mod-info's module trees into one logical forest, resolving
// instance-identifier dependency edges against live data, invoking the
// external schema library over the REQ ∪ INV_DEP validate list, and
// merging any induced supplemental diff back into the mod-info.
package validator

import (
	"context"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/modinfo"
	"github.com/sr-shim/shimrepo/internal/schemalib"
	"github.com/sr-shim/shimrepo/internal/storage"
	"github.com/sr-shim/shimrepo/pkg/errors"
	"go.uber.org/zap"
)

// Config holds the Validator's dependencies.
type Config struct {
	Library schemalib.Library
	Storage *storage.Store
	Index   *modindex.Index
	Logger  *zap.SugaredLogger
}

// Validator runs the spec §4.F procedure over a mod-info.
type Validator struct {
	lib   schemalib.Library
	store *storage.Store
	index *modindex.Index
	log   *zap.SugaredLogger
}

// New constructs a Validator.
func New(cfg *Config) (*Validator, error) {
	if cfg == nil || cfg.Library == nil || cfg.Storage == nil || cfg.Index == nil {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "library, storage and index are required").
			WithField("Config").WithRule("required")
	}
	return &Validator{lib: cfg.Library, store: cfg.Storage, index: cfg.Index, log: cfg.Logger}, nil
}

// Validate runs the six-step procedure of spec §4.F over info. finishDiff
// requests the schema library's induced changes (auto-deleted when-false
// nodes, default insertions) be captured as a supplemental diff merged back
// into the mod-info.
func (v *Validator) Validate(ctx context.Context, info *modinfo.Info, finishDiff bool) error {
	// Step 1: attach every entry's new-data tree into one logical forest,
	// loading from disk any entry that does not already carry one.
	forest := make(map[string]*editdiff.Tree, len(info.Entries()))
	for _, e := range info.Entries() {
		if e.CurrentData == nil {
			tree, err := v.load(e.Module.Name, info.Datastore)
			if err != nil {
				return err
			}
			e.CurrentData = tree
		}
		forest[e.Module.Name] = e.CurrentData
	}

	// Step 2: instance-identifier dependency resolution for every REQ
	// module, discovering additional DEP modules at validation time.
	discovered := make(map[string]*modinfo.Entry)
	for _, e := range info.Entries() {
		if !e.State.Has(modinfo.StateREQ) {
			continue
		}
		for _, dep := range e.Module.Deps() {
			if dep.Tag != modindex.DepInstanceIdentifier {
				continue
			}
			if err := v.resolveInstanceIdentifier(ctx, info, forest, discovered, e, dep); err != nil {
				return err
			}
		}
	}

	// Step 3: REQ ∪ INV_DEP is the validate list; DEP modules are attached
	// but not validated.
	var validateList []string
	for _, e := range info.Entries() {
		if e.State.Has(modinfo.StateREQ) || e.State.Has(modinfo.StateINVDEP) {
			validateList = append(validateList, e.Module.Name)
		}
	}

	// Step 4: invoke the external schema library.
	policy := schemalib.PolicyFlags{ConfigOnly: true, WhenAutoDelete: true, EmitValDiff: finishDiff}
	result, err := v.lib.Validate(forest, validateList, policy)
	if err != nil {
		return err
	}
	if len(result.Issues) > 0 {
		issues := make([]errors.ValidationIssue, 0, len(result.Issues))
		for _, iss := range result.Issues {
			issues = append(issues, errors.ValidationIssue{Message: iss.Message, XPath: iss.XPath})
		}
		return errors.NewSchemaValidationError(issues)
	}

	// Step 5: merge the supplemental diff, tracking default_change and
	// promoting INV_DEP modules touched by the merge to CHANGED.
	if finishDiff {
		for module, diff := range result.InducedChanges {
			entry := v.findByName(info, module)
			if entry == nil {
				continue
			}
			if entry.Diff == nil {
				entry.Diff = editdiff.NewDiff(module)
			}
			if editdiff.MergeDiff(entry.Diff, diff) {
				info.DefaultChange = true
			}
			if entry.State.Has(modinfo.StateINVDEP) && !entry.Diff.IsEmpty() {
				entry.State |= modinfo.StateCHANGED
			}
		}
	}

	// Step 6: detach and free DEP-only trees this call loaded, so they do
	// not linger in the mod-info past validation.
	for _, e := range discovered {
		if e.State == modinfo.StateDEP {
			e.CurrentData = nil
		}
	}

	return nil
}

// resolveInstanceIdentifier evaluates a single instance-identifier edge's
// XPath over the owning module's data, reads the matched leaf's runtime
// string value (itself an instance-identifier path into another module's
// tree), and adds the module it names to info as DEP, loading its data
// from disk if it is not already attached.
func (v *Validator) resolveInstanceIdentifier(
	ctx context.Context,
	info *modinfo.Info,
	forest map[string]*editdiff.Tree,
	discovered map[string]*modinfo.Entry,
	owner *modinfo.Entry,
	dep modindex.DependencyEdge,
) error {
	matches, err := v.lib.EvaluateXPath(owner.CurrentData, dep.XPath)
	if err != nil {
		return err
	}

	for _, matchPath := range matches {
		val, ok := owner.CurrentData.Get(matchPath)
		if !ok {
			continue
		}
		targetXPath, ok := val.Data.(string)
		if !ok || targetXPath == "" {
			continue
		}
		targetModules, err := v.lib.AtomizeXPath(targetXPath)
		if err != nil {
			return err
		}
		for _, name := range targetModules {
			if _, ok := forest[name]; ok {
				continue
			}
			tree, err := v.load(name, info.Datastore)
			if err != nil {
				return err
			}
			forest[name] = tree

			target := v.findByName(info, name)
			if target == nil {
				m, ok := v.index.Lookup(name)
				if !ok {
					continue
				}
				target = info.AddDiscovered(m, modinfo.StateDEP)
			}
			target.CurrentData = tree
			discovered[name] = target
		}
	}
	return nil
}

func (v *Validator) findByName(info *modinfo.Info, name string) *modinfo.Entry {
	for _, e := range info.Entries() {
		if e.Module.Name == name {
			return e
		}
	}
	return nil
}

func (v *Validator) load(module string, ds modindex.Datastore) (*editdiff.Tree, error) {
	data, present, err := v.store.Load(module, ds)
	if err != nil {
		return nil, err
	}
	if !present {
		return editdiff.NewTree(), nil
	}
	return v.lib.Parse(module, data)
}
