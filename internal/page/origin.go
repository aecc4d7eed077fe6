package page

import "encoding/binary"

// OriginBase derives the virtual address a region was originally
// mapped at from the raw bytes of its head page. The head's prev link
// stops being a self-loop the moment the region is populated, but
// list order equals memory order and creation always installs a page
// right after the head, so the head's stored next pointer is the
// absolute address of the link field inside the page starting at
// base + head.size. Subtracting the head's size and the link offset
// yields the base. Fields are little-endian and pointers 64-bit, per
// the on-region format; a header that is unlinked, zeroed, or
// undersized is rejected.
func OriginBase(raw []byte) (uintptr, bool) {
	if len(raw) < int(HeaderSize) {
		return 0, false
	}
	size := binary.LittleEndian.Uint32(raw[sizeOffset:])
	next := binary.LittleEndian.Uint64(raw[nextLinkOffset:])
	off := uint64(size) + uint64(linkOffset)
	if size < HeaderSize || next <= off {
		return 0, false
	}
	return uintptr(next - off), true
}
