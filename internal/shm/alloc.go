package shm

import (
	"context"
	"time"

	"github.com/edsrzf/mmap-go"
	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
	"github.com/sr-shim/shimrepo/pkg/metrics"
)

// MaxSize bounds how large a segment may grow; a remap that would exceed it
// fails with resource_exhausted per spec §4.A.
var MaxSize uint64 = 4 * 1024 * 1024 * 1024

// flockRetryDelay is the poll interval used while waiting for the
// cross-process segment lock.
const flockRetryDelay = 50 * time.Millisecond

// lockExclusive acquires the segment-wide write lock across both processes
// (flk) and goroutines within this one (mu), releasing both on return of
// the unlock func. It is the single choke point spec §5 describes:
// "writers to its header or to the module-record vector must hold the
// segment-wide write lock."
func (s *Segment) lockExclusive(ctx context.Context) (func(), error) {
	s.mu.Lock()
	ok, err := s.flk.TryLockContext(ctx, flockRetryDelay)
	if err != nil || !ok {
		s.mu.Unlock()
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, shimerrors.NewLockError(err, shimerrors.ErrorCodeTimedOut, "failed to acquire segment-wide lock")
	}
	return func() {
		s.flk.Unlock()
		s.mu.Unlock()
	}, nil
}

// Alloc reserves n bytes at the current tail, growing the segment via
// Remap first if there isn't enough room, and returns the offset of the
// newly reserved region. The segment-wide lock is released before Alloc
// returns, so a caller's write into the region is not atomic with the tail
// bump (Alloc itself only guarantees the bytes are reserved, not zeroed
// beyond what Remap/Truncate already zeros).
func (s *Segment) Alloc(ctx context.Context, n int) (uint64, error) {
	if n <= 0 {
		return 0, shimerrors.NewValidationError(nil, shimerrors.ErrorCodeInvalidInput, "allocation size must be positive").
			WithField("n").WithRule("positive")
	}

	unlock, err := s.lockExclusive(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	tail := s.Tail()
	size := s.Size()
	need := tail + uint64(n)

	if need > size {
		if err := s.growLocked(need); err != nil {
			return 0, err
		}
	}

	s.setTail(tail + uint64(n))
	if s.log != nil {
		s.log.Debugw("segment allocation", "offset", tail, "size", n, "newTail", tail+uint64(n))
	}
	return tail, nil
}

// growLocked grows the backing file and re-maps it to at least `need`
// bytes. Callers must already hold the exclusive segment lock.
func (s *Segment) growLocked(need uint64) error {
	newSize := s.Size()
	if newSize == 0 {
		newSize = HeaderSize
	}
	for newSize < need {
		newSize *= 2
	}
	if newSize > MaxSize {
		return shimerrors.NewLockError(nil, shimerrors.ErrorCodeResourceExhausted, "segment cannot grow further").
			WithDetail("requested", need).WithDetail("max", MaxSize)
	}

	if err := s.data.Unmap(); err != nil {
		return shimerrors.NewStorageError(err, shimerrors.ErrorCodeIO, "failed to unmap segment before growing").WithPath(s.path)
	}
	if err := s.file.Truncate(int64(newSize)); err != nil {
		return shimerrors.NewStorageError(err, shimerrors.ErrorCodeIO, "failed to grow segment file").WithPath(s.path)
	}

	data, err := mmap.Map(s.file, mmap.RDWR, 0)
	if err != nil {
		return shimerrors.NewStorageError(err, shimerrors.ErrorCodeIO, "failed to remap grown segment file").WithPath(s.path)
	}
	s.data = data
	s.setSize(newSize)
	metrics.SegmentSizeBytes.Set(float64(newSize))
	metrics.SegmentRemapsTotal.Inc()

	if s.log != nil {
		s.log.Infow("segment grown", "newSize", newSize)
	}
	return nil
}

// Remap grows the segment to at least newSize, or is a no-op if the
// segment is already at least that large. It is the only mutator of
// segment size (spec §4.A); every caller holding offsets across it must
// re-resolve them afterward via OffsetToPtr.
func (s *Segment) Remap(ctx context.Context, newSize uint64) error {
	unlock, err := s.lockExclusive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if newSize <= s.Size() {
		return nil
	}
	return s.growLocked(newSize)
}

// PutBytes writes b at offset off, which must have been obtained from
// Alloc(len(b)) or otherwise be known free space owned by the caller.
func (s *Segment) PutBytes(off uint64, b []byte) error {
	dst, err := s.OffsetToPtr(off, len(b))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// PutString allocates room for a UTF-8, NUL-terminated copy of str and
// returns its offset, per spec §3 "offset to its name (UTF-8,
// NUL-terminated, in the same segment)".
func (s *Segment) PutString(ctx context.Context, str string) (uint64, error) {
	buf := make([]byte, len(str)+1)
	copy(buf, str)
	off, err := s.Alloc(ctx, len(buf))
	if err != nil {
		return 0, err
	}
	if err := s.PutBytes(off, buf); err != nil {
		return 0, err
	}
	return off, nil
}

// GetString reads a NUL-terminated UTF-8 string starting at off.
func (s *Segment) GetString(off uint64) (string, error) {
	s.mu.RLock()
	size := s.Size()
	s.mu.RUnlock()

	if off >= size {
		return "", shimerrors.NewStorageError(nil, shimerrors.ErrorCodeIO, "string offset out of bounds").WithOffset(int(off))
	}

	view, err := s.OffsetToPtr(off, int(size-off))
	if err != nil {
		return "", err
	}
	end := 0
	for end < len(view) && view[end] != 0 {
		end++
	}
	return string(view[:end]), nil
}
