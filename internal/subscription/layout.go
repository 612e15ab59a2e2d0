package subscription

import "encoding/binary"

// Binary layout inside the shared segment. Each module's subscription table
// is a small header (count, capacity) followed by `capacity` fixed-size
// slot records (spec §4.H "a variable-length record inside the shared
// segment"); the variability is in the table's slot count, not an
// individual slot's size. Each slot's own variable-length payload (the
// XPath string) lives in a separately allocated string, the same pattern
// internal/modindex uses for module names.
const (
	tableHeaderSize = 16 // {Count uint32, Cap uint32, pad 8}
	offCount        = 0
	offCap          = 4

	slotSize     = 32 // {ID uint64, Priority uint32, Options uint32, XPathOff uint64, pad 8}
	slotID       = 0
	slotPriority = 8
	slotOptions  = 12
	slotXPathOff = 16
)

func decodeTableHeader(b []byte) (count, cap uint32) {
	return binary.LittleEndian.Uint32(b[offCount : offCount+4]), binary.LittleEndian.Uint32(b[offCap : offCap+4])
}

func encodeTableHeader(count, cap uint32) []byte {
	b := make([]byte, tableHeaderSize)
	binary.LittleEndian.PutUint32(b[offCount:offCount+4], count)
	binary.LittleEndian.PutUint32(b[offCap:offCap+4], cap)
	return b
}

func decodeSlot(b []byte) (id uint64, priority int32, opts uint32, xpathOff uint64) {
	id = binary.LittleEndian.Uint64(b[slotID : slotID+8])
	priority = int32(binary.LittleEndian.Uint32(b[slotPriority : slotPriority+4]))
	opts = binary.LittleEndian.Uint32(b[slotOptions : slotOptions+4])
	xpathOff = binary.LittleEndian.Uint64(b[slotXPathOff : slotXPathOff+8])
	return
}

func encodeSlot(id uint64, priority int32, opts uint32, xpathOff uint64) []byte {
	b := make([]byte, slotSize)
	binary.LittleEndian.PutUint64(b[slotID:slotID+8], id)
	binary.LittleEndian.PutUint32(b[slotPriority:slotPriority+4], uint32(priority))
	binary.LittleEndian.PutUint32(b[slotOptions:slotOptions+4], opts)
	binary.LittleEndian.PutUint64(b[slotXPathOff:slotXPathOff+8], xpathOff)
	return b
}
