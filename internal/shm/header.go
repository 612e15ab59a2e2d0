package shm

import "encoding/binary"

// Header layout, per spec §3 "Shared segment. The segment has a header
// (version, size, module-list head offset) followed by heterogeneous
// records." All multi-byte fields are little-endian and addressed by fixed
// byte offsets so every attaching process agrees on the layout without a
// handshake.
const (
	offMagic          = 0  // uint32
	offVersion        = 4  // uint32
	offSize           = 8  // uint64: current logical size of the segment, in bytes
	offTail           = 16 // uint64: byte offset of the next free allocation
	offModuleListHead = 24 // uint64: offset of the first module record, or 0 if empty
	offSubTableHead   = 32 // uint64: offset of the subscription record table tail anchor

	// HeaderSize is the fixed-size prefix reserved for the header; the
	// allocator's first bump allocation starts immediately after it.
	HeaderSize = 64
)

// magic identifies a shimrepo segment so a stray or corrupted file is
// rejected with a fatal error rather than silently misread, per spec §4.A
// "corruption detected (bad magic/version) -> fatal".
const magic uint32 = 0x53524d30 // "SRM0"

// version is bumped whenever the header or record layouts change
// incompatibly.
const version uint32 = 1

func (s *Segment) readHeaderUint32(off int) uint32 {
	return binary.LittleEndian.Uint32(s.data[off : off+4])
}

func (s *Segment) writeHeaderUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(s.data[off:off+4], v)
}

func (s *Segment) readHeaderUint64(off int) uint64 {
	return binary.LittleEndian.Uint64(s.data[off : off+8])
}

func (s *Segment) writeHeaderUint64(off int, v uint64) {
	binary.LittleEndian.PutUint64(s.data[off:off+8], v)
}

// Size returns the segment's current logical size in bytes.
func (s *Segment) Size() uint64 { return s.readHeaderUint64(offSize) }

func (s *Segment) setSize(v uint64) { s.writeHeaderUint64(offSize, v) }

// Tail returns the byte offset of the next free allocation.
func (s *Segment) Tail() uint64 { return s.readHeaderUint64(offTail) }

func (s *Segment) setTail(v uint64) { s.writeHeaderUint64(offTail, v) }

// ModuleListHead returns the offset of the first module record, or 0 if
// the index is empty.
func (s *Segment) ModuleListHead() uint64 { return s.readHeaderUint64(offModuleListHead) }

// SetModuleListHead updates the offset of the first module record. Callers
// must hold the segment-wide write lock (spec §5 "writers to its header or
// to the module-record vector must hold the segment-wide write lock").
func (s *Segment) SetModuleListHead(off uint64) { s.writeHeaderUint64(offModuleListHead, off) }

// SubscriptionTableHead returns the header's subscription-table anchor
// offset. internal/subscription does not read it: each module's table is
// anchored by its ModuleRecord's SubscriptionHead instead.
func (s *Segment) SubscriptionTableHead() uint64 { return s.readHeaderUint64(offSubTableHead) }

// SetSubscriptionTableHead updates the subscription table's anchor offset.
func (s *Segment) SetSubscriptionTableHead(off uint64) { s.writeHeaderUint64(offSubTableHead, off) }

func (s *Segment) initHeader(initialSize uint64) {
	s.writeHeaderUint32(offMagic, magic)
	s.writeHeaderUint32(offVersion, version)
	s.setSize(initialSize)
	s.setTail(HeaderSize)
	s.SetModuleListHead(0)
	s.SetSubscriptionTableHead(0)
}

func (s *Segment) validateHeader() error {
	if s.readHeaderUint32(offMagic) != magic {
		return errBadMagic
	}
	if s.readHeaderUint32(offVersion) != version {
		return errBadVersion
	}
	return nil
}
