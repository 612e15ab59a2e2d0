// Package shm implements the shared-memory segment allocator of spec §4.A:
// a fixed-base, growable, process-shared byte region addressed entirely by
// offsets, so that a remap never invalidates a reference held across it;
// only re-resolving through OffsetToPtr does.
//
// The segment is backed by a regular file under the engine's repo root and
// mapped with github.com/edsrzf/mmap-go. Cross-process mutual exclusion on
// the header and tail-allocation pointer is provided by
// github.com/gofrs/flock, composed with an in-process sync.RWMutex the same
// way internal/modindex's flock-backed control blocks pair in-process and
// cross-process exclusion.
package shm

import (
	"errors"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
	"go.uber.org/zap"
)

var (
	errBadMagic   = errors.New("shm: bad segment magic")
	errBadVersion = errors.New("shm: unsupported segment version")

	// ErrClosed is returned by any operation attempted after Detach.
	ErrClosed = errors.New("shm: segment is detached")
)

// Segment is a process-shared, growable byte region. All internal
// references into it are offsets, never pointers, so a Remap never
// invalidates state held by a caller; only a stale []byte slice obtained
// from a previous OffsetToPtr call does.
type Segment struct {
	path string
	file *os.File
	data mmap.MMap

	// flk provides the segment-wide exclusive lock across processes (spec
	// §4.A: "a segment-wide exclusive lock (separate from per-module
	// locks)"). It is acquired for the duration of any header/tail mutation
	// or remap.
	flk *flock.Flock

	// mu serializes the same operations within this process; flk alone
	// would allow two goroutines in one process to interleave a remap.
	mu sync.RWMutex

	closed bool
	log    *zap.SugaredLogger
}

// Config names the backing file and initial size Attach should use when
// creating a new segment.
type Config struct {
	Path        string
	InitialSize uint64
	Logger      *zap.SugaredLogger
}

// Attach opens (or creates) the segment's backing file, maps it into this
// process, and validates or initializes its header. First-attach creates
// the file; subsequent attaches by any process on the host reuse it.
func Attach(cfg Config) (*Segment, error) {
	if cfg.Path == "" {
		return nil, shimerrors.NewValidationError(nil, shimerrors.ErrorCodeInvalidInput, "segment path is required").
			WithField("Path").WithRule("required")
	}
	if cfg.InitialSize < HeaderSize {
		cfg.InitialSize = HeaderSize
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, shimerrors.ClassifyFileOpenError(err, cfg.Path, cfg.Path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, shimerrors.NewStorageError(err, shimerrors.ErrorCodeIO, "failed to stat segment file").WithPath(cfg.Path)
	}

	isNew := info.Size() == 0
	if isNew {
		if err := f.Truncate(int64(cfg.InitialSize)); err != nil {
			f.Close()
			return nil, shimerrors.NewStorageError(err, shimerrors.ErrorCodeIO, "failed to size new segment file").WithPath(cfg.Path)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, shimerrors.NewStorageError(err, shimerrors.ErrorCodeIO, "failed to mmap segment file").WithPath(cfg.Path)
	}

	s := &Segment{
		path: cfg.Path,
		file: f,
		data: data,
		flk:  flock.New(cfg.Path + ".lock"),
		log:  cfg.Logger,
	}

	if isNew {
		s.initHeader(uint64(len(data)))
	} else if err := s.validateHeader(); err != nil {
		s.data.Unmap()
		s.file.Close()
		return nil, shimerrors.NewStorageError(err, shimerrors.ErrorCodeSegmentCorrupted, "segment header failed validation").WithPath(cfg.Path)
	}

	if s.log != nil {
		s.log.Infow("segment attached", "path", cfg.Path, "new", isNew, "size", s.Size())
	}
	return s, nil
}

// Detach unmaps and closes the segment's backing file. It does not delete
// the file: per spec §3 lifecycle, the segment "persists" until an
// administrator requests teardown.
func (s *Segment) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true

	var firstErr error
	if err := s.data.Flush(); err != nil {
		firstErr = err
	}
	if err := s.data.Unmap(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return shimerrors.NewStorageError(firstErr, shimerrors.ErrorCodeIO, "failed to detach segment").WithPath(s.path)
	}
	return nil
}

// OffsetToPtr resolves an offset to a bounded byte slice, rejecting any
// range that would read past the segment's current size. Per spec §9
// "Offset-only pointers", the returned slice must not be held across a
// Remap; callers re-resolve after any operation that may grow the segment.
func (s *Segment) OffsetToPtr(off uint64, length int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	size := s.Size()
	if length < 0 || off > size || uint64(length) > size-off {
		return nil, shimerrors.NewStorageError(nil, shimerrors.ErrorCodeIO, "offset out of bounds").
			WithOffset(int(off)).WithDetail("length", length).WithDetail("segmentSize", size)
	}
	return s.data[off : off+uint64(length) : off+uint64(length)], nil
}

// Path returns the backing file's path.
func (s *Segment) Path() string { return s.path }
