// Package options provides data structures and functions for configuring
// the shimrepo engine. It defines the parameters that control where the
// shared segment and per-module data files live, how large an initial
// segment is allocated, and the tuning constants that bound lock
// acquisition and commit retry behavior (spec §6 "Tuning constants").
package options

import (
	"strings"
	"time"

	"github.com/sr-shim/shimrepo/pkg/errors"
)

// Tuning holds the constants named in spec §6 that bound lock acquisition
// and commit retry behavior. They are surfaced as part of Options so they
// can be overridden the same way as any other engine setting, and are also
// loadable from YAML via pkg/config.
type Tuning struct {
	// ModuleLockTimeout is the absolute deadline budget for a single
	// lock_all call (spec §4.D "bounded absolute deadline").
	ModuleLockTimeout time.Duration `yaml:"moduleLockTimeout" json:"moduleLockTimeout"`

	// CommitStepCount bounds the number of times a commit will retry
	// acquiring a module whose applying_changes flag is set before
	// failing with timed_out (spec §4.D).
	CommitStepCount int `yaml:"commitStepCount" json:"commitStepCount"`

	// CommitStepSleep is the fixed back-off slept between those retries.
	CommitStepSleep time.Duration `yaml:"commitStepSleep" json:"commitStepSleep"`
}

// Defines configurable parameters for the shared-memory segment.
// It provides fine-grained control over the segment's initial footprint,
// growth behavior, and backing-file location.
type shmOptions struct {
	// Size is the initial size, in bytes, of a newly created segment.
	//
	//  - Default: 1MB
	//  - Minimum: 64KB
	//  - Maximum: 4GB
	Size uint64 `yaml:"size" json:"size"`

	// Growth is a growth increment in bytes. It is carried in the options
	// but not read by internal/shm, which grows the segment by doubling its
	// size until the request fits.
	Growth uint64 `yaml:"growth" json:"growth"`

	// Directory is where the segment's backing file is stored, relative
	// to RepoRoot.
	//
	// Default: "/shm"
	Directory string `yaml:"directory" json:"directory"`
}

// Defines the configuration parameters for a shimrepo engine instance.
// It provides control over where state lives and how locking/commit
// retries are tuned.
type Options struct {
	// RepoRoot is the base path under which the shared segment's backing
	// file and the per-module persisted data files are stored.
	//
	// Default: "/var/lib/shimrepo"
	RepoRoot string `yaml:"repoRoot" json:"repoRoot"`

	// DataDirectory is the subdirectory, relative to RepoRoot, holding
	// opaque per-module data files shaped
	// "{repo_root}/data/{module_name}.{datastore}" (spec §6).
	DataDirectory string `yaml:"dataDirectory" json:"dataDirectory"`

	// Tuning carries the lock-timeout and commit-retry constants of spec §6.
	Tuning Tuning `yaml:"tuning" json:"tuning"`

	// ShmOptions configures the shared segment's initial size, growth
	// increment, and backing-file location.
	ShmOptions *shmOptions `yaml:"shm" json:"shm"`
}

// OptionFunc is a function type that modifies the engine's configuration.
type OptionFunc func(*Options)

// Applies a predefined set of default configuration values to the Options struct.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		opts := NewDefaultOptions()
		o.RepoRoot = opts.RepoRoot
		o.DataDirectory = opts.DataDirectory
		o.ShmOptions = opts.ShmOptions
		o.Tuning = opts.Tuning
	}
}

// Sets the base directory shimrepo stores its state under.
func WithRepoRoot(path string) OptionFunc {
	return func(o *Options) {
		path = strings.TrimSpace(path)
		if path != "" {
			o.RepoRoot = path
		}
	}
}

// Sets the module lock acquisition deadline.
func WithModuleLockTimeout(timeout time.Duration) OptionFunc {
	return func(o *Options) {
		if timeout > 0 {
			o.Tuning.ModuleLockTimeout = timeout
		}
	}
}

// Sets the bounded retry count for applying_changes contention.
func WithCommitStepCount(count int) OptionFunc {
	return func(o *Options) {
		if count > 0 {
			o.Tuning.CommitStepCount = count
		}
	}
}

// Sets the fixed back-off slept between applying_changes retries.
func WithCommitStepSleep(sleep time.Duration) OptionFunc {
	return func(o *Options) {
		if sleep > 0 {
			o.Tuning.CommitStepSleep = sleep
		}
	}
}

// Sets the directory specifically for storing the segment's backing file.
func WithSegmentDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.ShmOptions.Directory = directory
		}
	}
}

// Sets the initial size of the shared segment.
func WithSegmentSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size >= MinSegmentSize && size <= MaxSegmentSize {
			o.ShmOptions.Size = size
		}
	}
}

// Validate checks that Options describes a usable engine configuration,
// returning a pkg/errors.ValidationError identifying the offending field
// when it doesn't. Engine.New calls this before attaching the segment so
// a misconfiguration fails fast instead of surfacing as an obscure I/O
// error three layers down.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.RepoRoot) == "" {
		return errors.NewRequiredFieldError("RepoRoot")
	}

	if o.ShmOptions != nil && o.ShmOptions.Size != 0 {
		if o.ShmOptions.Size < MinSegmentSize || o.ShmOptions.Size > MaxSegmentSize {
			return errors.NewFieldRangeError("ShmOptions.Size", o.ShmOptions.Size, MinSegmentSize, MaxSegmentSize)
		}
	}

	if o.Tuning.CommitStepCount < 0 {
		return errors.NewFieldRangeError("Tuning.CommitStepCount", o.Tuning.CommitStepCount, 0, nil)
	}

	if o.Tuning.ModuleLockTimeout < 0 {
		return errors.NewConfigurationValidationError("Tuning.ModuleLockTimeout", "must not be negative")
	}

	return nil
}

// Sets the segment's growth increment.
func WithSegmentGrowth(growth uint64) OptionFunc {
	return func(o *Options) {
		if growth > 0 {
			o.ShmOptions.Growth = growth
		}
	}
}
