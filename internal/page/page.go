// Package page implements the variable-sized pages a fixed memory
// region is divided into. Every page starts with a fixed Header; the
// header's size field counts the header itself, so the next page in
// memory always begins at the current header plus its size. Pages are
// chained through an embedded intrusive list node, and list order
// equals memory order.
package page

import (
	"unsafe"

	"github.com/fmem-project/fmem/internal/list"
)

// Header prefixes every page in a region. The layout is persistent
// state: it is written into the mapped region byte-for-byte and read
// back by later processes, so fields must not be reordered.
type Header struct {
	flags uint32
	size  uint32
	link  list.Node
}

const (
	// HeaderSize is the fixed per-page overhead in bytes.
	HeaderSize = uint32(unsafe.Sizeof(Header{}))

	// RemainFree is the carving threshold: a page is split only when
	// the leftover exceeds it. A leftover of this size or smaller
	// stays attached to the page it would have been split from.
	RemainFree = 2 * HeaderSize

	sizeOffset = unsafe.Offsetof(Header{}.size)
	linkOffset = unsafe.Offsetof(Header{}.link)

	// The link pair is prev then next; next is the second pointer.
	nextLinkOffset = linkOffset + unsafe.Sizeof(uintptr(0))
)

const (
	busyBit    = uint32(1) << 15
	magicShift = 16
	flagsMask  = ^uint32(0) >> magicShift // low 16 bits

	// Poison is the magic sentinel stamped into every live header.
	// Any other value in the magic bits means the header was
	// overwritten.
	Poison uint16 = 0xBEEF
)

// At interprets the memory at p as a page header.
func At(p unsafe.Pointer) *Header {
	return (*Header)(p)
}

// FromPayload recovers the header from a payload address previously
// returned to a client.
func FromPayload(p unsafe.Pointer) *Header {
	return (*Header)(unsafe.Add(p, -int(HeaderSize)))
}

// FromNode recovers the enclosing header from its embedded list node.
func FromNode(n *list.Node) *Header {
	return (*Header)(unsafe.Add(unsafe.Pointer(n), -int(linkOffset)))
}

// Node returns the embedded list node.
func (h *Header) Node() *list.Node { return &h.link }

// Payload returns the first byte past the header.
func (h *Header) Payload() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), HeaderSize)
}

// Format turns raw bytes into a fresh page: cleared flags, the given
// total size, and a self-looped link.
func (h *Header) Format(size uint32) {
	h.flags = 0
	h.size = size
	h.link.Init()
}

// Size returns the total page size in bytes, header included.
func (h *Header) Size() uint32 { return h.size }

// SetSize overwrites the total page size. Callers own the contiguity
// invariant when they do.
func (h *Header) SetSize(n uint32) { h.size = n }

// Actual returns the payload capacity of the page.
func (h *Header) Actual() uint32 { return h.size - HeaderSize }

// Busy reports whether the page is allocated.
func (h *Header) Busy() bool { return h.flags&busyBit != 0 }

// SetBusy flips the busy bit, preserving the magic bits.
func (h *Header) SetBusy(busy bool) {
	if busy {
		h.flags |= busyBit
	} else {
		h.flags &^= busyBit
	}
}

// Magic returns the magic bits of the header.
func (h *Header) Magic() uint16 { return uint16(h.flags >> magicShift) }

// SetMagic overwrites the magic bits, preserving the busy bit.
func (h *Header) SetMagic(m uint16) {
	h.flags = h.flags&flagsMask | uint32(m)<<magicShift
}

// Fit classifies whether a request of a given payload size can be
// served from a page.
type Fit int

const (
	// CanNotFit: the payload does not fit at all.
	CanNotFit Fit = iota
	// FitAsIs: the payload fits but the leftover would be too small
	// to carve, so the whole page should be handed out.
	FitAsIs
	// FitWithCarve: the payload fits and the leftover is big enough
	// to remain a usable free page.
	FitWithCarve
)

// FitFor classifies a request for need payload bytes against h.
func (h *Header) FitFor(need uint32) Fit {
	avail := h.Actual()
	switch {
	case need > avail:
		return CanNotFit
	case need+RemainFree >= avail:
		return FitAsIs
	default:
		return FitWithCarve
	}
}

// Carve splits h, taking need payload bytes plus a header off its
// tail. The new page is linked immediately after h and returned; h
// keeps the low-address remainder and stays where it is in the list.
// Carve performs no checks: the caller must have established
// FitWithCarve for need.
func (h *Header) Carve(need uint32) *Header {
	h.size -= need + HeaderSize

	nh := At(unsafe.Add(unsafe.Pointer(h), uintptr(h.size)))
	nh.flags = 0
	nh.size = need + HeaderSize
	h.link.AddAfter(&nh.link)
	return nh
}

// Merge coalesces h with whichever of its immediate neighbors are
// free. When both are free the three pages collapse into the
// predecessor; absorbed headers are unlinked and cease to exist. The
// identity checks guard the single-page list, and the head page is
// never absorbed because it is permanently busy. Merge returns the
// surviving page so the caller can direct commits at it.
func (h *Header) Merge() *Header {
	prev := FromNode(h.link.Prev())
	next := FromNode(h.link.Next())
	prevFree := prev != h && !prev.Busy()
	nextFree := next != h && !next.Busy()

	switch {
	case prevFree && nextFree:
		prev.size += h.size + next.size
		h.link.Remove()
		next.link.Remove()
		return prev
	case prevFree:
		prev.size += h.size
		h.link.Remove()
		return prev
	case nextFree:
		h.size += next.size
		next.link.Remove()
		return h
	}
	return h
}

// CheckPoison verifies the magic sentinel. The failure behavior is
// build-dependent: see poison_abort.go and poison_abort_off.go.
func (h *Header) CheckPoison() error {
	if m := h.Magic(); m != Poison {
		return poisonFailure(h, m)
	}
	return nil
}
