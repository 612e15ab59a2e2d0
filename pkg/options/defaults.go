package options

import "time"

const (
	// DefaultRepoRoot is the base directory under which the engine keeps its
	// persisted per-module data files and its shared-memory segment's
	// backing file, when no other root is configured.
	DefaultRepoRoot = "/var/lib/shimrepo"

	// DefaultModuleLockTimeout is the absolute deadline budget given to a
	// single lock_all call, per spec §6's "module_lock_timeout".
	DefaultModuleLockTimeout = 5 * time.Second

	// DefaultCommitStepCount bounds the number of applying_changes back-off
	// retries a commit spends waiting for a contended module before it
	// fails with timed_out.
	DefaultCommitStepCount = 100

	// DefaultCommitStepSleep is the fixed back-off step slept between
	// applying_changes retries.
	DefaultCommitStepSleep = 10 * time.Millisecond

	// MinSegmentSize is the smallest initial shared-segment size accepted.
	MinSegmentSize uint64 = 64 * 1024

	// MaxSegmentSize is the largest shared-segment size this implementation
	// will remap to; beyond this a remap fails with resource_exhausted.
	MaxSegmentSize uint64 = 4 * 1024 * 1024 * 1024

	// DefaultSegmentSize is the initial size of a newly created segment.
	DefaultSegmentSize uint64 = 1 * 1024 * 1024

	// DefaultSegmentGrowthIncrement is the default for ShmOptions.Growth,
	// which internal/shm does not read (it grows the segment by doubling).
	DefaultSegmentGrowthIncrement uint64 = 1 * 1024 * 1024

	// DefaultSegmentDirectory is the subdirectory, relative to RepoRoot,
	// that holds the shared segment's backing file.
	DefaultSegmentDirectory = "/shm"

	// DefaultDataDirectory is the subdirectory, relative to RepoRoot, that
	// holds the opaque per-module persisted data files, path-shaped as
	// "{repo_root}/data/{module_name}.{datastore}" per spec §6.
	DefaultDataDirectory = "/data"
)

// Holds the default configuration settings for a shimrepo engine instance.
var defaultOptions = Options{
	RepoRoot: DefaultRepoRoot,
	Tuning: Tuning{
		ModuleLockTimeout: DefaultModuleLockTimeout,
		CommitStepCount:   DefaultCommitStepCount,
		CommitStepSleep:   DefaultCommitStepSleep,
	},
	ShmOptions: &shmOptions{
		Size:      DefaultSegmentSize,
		Growth:    DefaultSegmentGrowthIncrement,
		Directory: DefaultSegmentDirectory,
	},
	DataDirectory: DefaultDataDirectory,
}

// NewDefaultOptions returns a copy of the engine's default configuration.
func NewDefaultOptions() Options {
	opts := defaultOptions
	shm := *defaultOptions.ShmOptions
	opts.ShmOptions = &shm
	return opts
}
