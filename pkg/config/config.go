// Package config loads engine tuning overrides from a YAML file, layered on
// top of flag/default configuration the way cmd/shimrepoctl's --config flag
// applies it (see openInstance). It is intentionally narrow: it only overrides the fields an
// operator is expected to tune per spec §6 (repo root and the three
// lock/commit constants), never the full internal Options struct.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
	"github.com/sr-shim/shimrepo/pkg/options"
	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML shape for engine tuning overrides.
//
//	repoRoot: /var/lib/shimrepo
//	tuning:
//	  moduleLockTimeout: 5s
//	  commitStepCount: 100
//	  commitStepSleep: 10ms
type File struct {
	RepoRoot string `yaml:"repoRoot"`
	Tuning   struct {
		ModuleLockTimeout time.Duration `yaml:"moduleLockTimeout"`
		CommitStepCount   int           `yaml:"commitStepCount"`
		CommitStepSleep   time.Duration `yaml:"commitStepSleep"`
	} `yaml:"tuning"`
}

// Load reads a YAML tuning file and returns it as a slice of
// options.OptionFunc ready to pass to the engine constructor, so that
// file-based overrides compose with programmatic ones using the same
// functional-options mechanism the rest of the package uses.
func Load(path string) ([]options.OptionFunc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shimrepo: read config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("shimrepo: parse config %s: %w", path, err)
	}

	var opts []options.OptionFunc
	if f.RepoRoot != "" {
		if !filepath.IsAbs(f.RepoRoot) {
			return nil, shimerrors.NewFieldFormatError("repoRoot", f.RepoRoot, "absolute path")
		}
		opts = append(opts, options.WithRepoRoot(f.RepoRoot))
	}
	if f.Tuning.ModuleLockTimeout > 0 {
		opts = append(opts, options.WithModuleLockTimeout(f.Tuning.ModuleLockTimeout))
	}
	if f.Tuning.CommitStepCount > 0 {
		opts = append(opts, options.WithCommitStepCount(f.Tuning.CommitStepCount))
	}
	if f.Tuning.CommitStepSleep > 0 {
		opts = append(opts, options.WithCommitStepSleep(f.Tuning.CommitStepSleep))
	}
	return opts, nil
}
