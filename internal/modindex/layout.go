package modindex

import (
	"context"
	"encoding/binary"

	"github.com/sr-shim/shimrepo/internal/shm"
)

// Wire layout of a module record and its dependency array inside the
// shared segment (spec §3 "Module record. Fixed-layout entry with: offset
// to its name..., offset to dependency array, dependency count, ... a head
// offset for its subscription table"). The record stores the name,
// dependency array, count and next-record offset; the subscription table's
// head offset is held in the in-process ModuleRecord, not in the segment.
// Inverse edges are not persisted in the segment (spec §9 allows deriving
// them on demand); this implementation instead materializes them in
// process memory at install time and re-derives them by a full scan in New
// (see Index.reconcile).
const (
	recNameOffset = 0  // uint64
	recDepsOffset = 8  // uint64
	recDepCount   = 16 // uint32, followed by 4 bytes padding for uint64 alignment
	recNext       = 24 // uint64: next module record in the list, 0 if last
	recSize       = 32

	edgeTag         = 0  // uint32, followed by 4 bytes padding
	edgeTarget      = 8  // uint64
	edgeXPathOffset = 16 // uint64
	edgeSize        = 24
)

func encodeRecord(nameOff, depsOff uint64, depCount uint32, next uint64) []byte {
	b := make([]byte, recSize)
	binary.LittleEndian.PutUint64(b[recNameOffset:], nameOff)
	binary.LittleEndian.PutUint64(b[recDepsOffset:], depsOff)
	binary.LittleEndian.PutUint32(b[recDepCount:], depCount)
	binary.LittleEndian.PutUint64(b[recNext:], next)
	return b
}

func decodeRecord(b []byte) (nameOff, depsOff uint64, depCount uint32, next uint64) {
	nameOff = binary.LittleEndian.Uint64(b[recNameOffset:])
	depsOff = binary.LittleEndian.Uint64(b[recDepsOffset:])
	depCount = binary.LittleEndian.Uint32(b[recDepCount:])
	next = binary.LittleEndian.Uint64(b[recNext:])
	return
}

// writeDeps allocates and writes the dependency array for edges, returning
// its offset. instance-identifier edges additionally allocate their XPath
// string.
func writeDeps(ctx context.Context, seg *shm.Segment, edges []DependencyEdge) (uint64, error) {
	if len(edges) == 0 {
		return 0, nil
	}

	arrOff, err := seg.Alloc(ctx, edgeSize*len(edges))
	if err != nil {
		return 0, err
	}

	for i, e := range edges {
		var xpathOff uint64
		if e.Tag == DepInstanceIdentifier && e.XPath != "" {
			xpathOff, err = seg.PutString(ctx, e.XPath)
			if err != nil {
				return 0, err
			}
		}

		b := make([]byte, edgeSize)
		binary.LittleEndian.PutUint32(b[edgeTag:], uint32(e.Tag))
		binary.LittleEndian.PutUint64(b[edgeTarget:], e.Target)
		binary.LittleEndian.PutUint64(b[edgeXPathOffset:], xpathOff)

		if err := seg.PutBytes(arrOff+uint64(i*edgeSize), b); err != nil {
			return 0, err
		}
	}
	return arrOff, nil
}

func readDeps(seg *shm.Segment, depsOff uint64, depCount uint32) ([]DependencyEdge, error) {
	if depCount == 0 {
		return nil, nil
	}

	view, err := seg.OffsetToPtr(depsOff, edgeSize*int(depCount))
	if err != nil {
		return nil, err
	}

	edges := make([]DependencyEdge, depCount)
	for i := range edges {
		b := view[i*edgeSize : (i+1)*edgeSize]
		tag := DepTag(binary.LittleEndian.Uint32(b[edgeTag:]))
		target := binary.LittleEndian.Uint64(b[edgeTarget:])
		xpathOff := binary.LittleEndian.Uint64(b[edgeXPathOffset:])

		var xpath string
		if tag == DepInstanceIdentifier && xpathOff != 0 {
			xpath, err = seg.GetString(xpathOff)
			if err != nil {
				return nil, err
			}
		}
		edges[i] = DependencyEdge{Tag: tag, Target: target, XPath: xpath}
	}
	return edges, nil
}
