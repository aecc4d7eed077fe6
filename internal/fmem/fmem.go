// Package fmem implements a malloc-style allocator over a caller
// supplied, fixed-size byte region. The region is typically a mapped
// file or shared-memory object, so the allocator's bookkeeping and
// every allocation survive the process that made them. All links
// stored in the region are absolute addresses: a region is only valid
// while mapped at the virtual address it was created at.
//
// The region is divided into header-prefixed pages chained through an
// intrusive circular list whose order equals memory order. The first
// page (the head) is permanently busy and carries the accounting
// block as its payload. Allocation walks the list first-fit and
// carves the tail off an oversized free page; freeing coalesces with
// free neighbors. An optional committer receives every metadata
// mutation as byte ranges so clients can persist the region
// incrementally.
package fmem

import (
	"sync/atomic"
	"unsafe"

	"github.com/fmem-project/fmem/internal/page"
)

// MaxRegionSize bounds a region: page sizes are 32-bit and count
// their header.
const MaxRegionSize = uint64(1)<<32 - 1

// acct is the accounting block, stored as the head page's payload.
// Persistent layout, little-endian, never reordered. The lock word
// lives here so that every process mapping the region spins on the
// same cell.
type acct struct {
	totalSize      uint64
	totalAvailable uint64
	allocObjects   uint64
	minAlloc       uint64
	user           [4]uintptr
	lock           uint32
	_              uint32
}

// AcctSize is the accounting block size in bytes.
const AcctSize = uint32(unsafe.Sizeof(acct{}))

// FMem is the process-local handle to a region. The handle itself
// holds only transient state (the committer and the mapped slice);
// everything else lives inside the region.
type FMem struct {
	region    []byte
	head      *page.Header
	acct      *acct
	committer Committer
}

// CreateNew formats region as a fresh allocator: a permanently busy
// head page holding the accounting block, followed by one free page
// spanning the rest of the region. minAlloc is the smallest payload
// handed out per allocation; requests below it are rounded up, and
// values below the page header size are clamped to it. If a committer
// is given, the formatted prefix is committed before returning.
func CreateNew(region []byte, minAlloc uint32, committer Committer) (*FMem, error) {
	length := uint64(len(region))
	overhead := uint64(2*page.HeaderSize + AcctSize)

	if length < overhead+uint64(page.HeaderSize) {
		return nil, ErrRegionTooSmall
	}
	if length > MaxRegionSize || length < uint64(minAlloc)+overhead {
		return nil, ErrBadInitMem
	}
	base := unsafe.Pointer(unsafe.SliceData(region))
	if uintptr(base)%8 != 0 {
		return nil, ErrBadInitMem
	}
	if minAlloc < page.HeaderSize {
		minAlloc = page.HeaderSize
	}

	head := page.At(base)
	head.Format(page.HeaderSize + AcctSize)
	head.SetBusy(true)
	head.SetMagic(page.Poison)

	main := page.At(unsafe.Add(base, head.Size()))
	main.Format(uint32(length) - head.Size())
	main.SetMagic(page.Poison)
	head.Node().AddAfter(main.Node())

	a := (*acct)(head.Payload())
	a.totalSize = length
	a.totalAvailable = uint64(main.Size())
	a.allocObjects = 0
	a.minAlloc = uint64(minAlloc)
	a.user = [4]uintptr{}
	atomic.StoreUint32(&a.lock, 0)

	f := &FMem{region: region, head: head, acct: a, committer: committer}
	prefix := Range{Addr: base, Len: uintptr(2*page.HeaderSize + AcctSize)}
	if err := f.commit(prefix); err != nil {
		return nil, err
	}
	return f, nil
}

// Reopen attaches to a region formatted by an earlier CreateNew. The
// stored state is authoritative: nothing is rewritten and nothing is
// committed. The committer is transient and re-installed here, and
// the lock word is reset so a crashed previous holder cannot wedge
// the region. Resetting is only safe when no other process is mid
// operation at reopen time.
func Reopen(region []byte, committer Committer) (*FMem, error) {
	if uint64(len(region)) < uint64(page.HeaderSize+AcctSize) {
		return nil, ErrRegionTooSmall
	}
	head := page.At(unsafe.Pointer(unsafe.SliceData(region)))
	if err := head.CheckPoison(); err != nil {
		return nil, err
	}
	a := (*acct)(head.Payload())
	atomic.StoreUint32(&a.lock, 0)
	return &FMem{region: region, head: head, acct: a, committer: committer}, nil
}

// Attach is a read-only Reopen: it recovers the accounting block
// without touching the lock word or installing a committer, so it is
// safe on a read-only mapping. Mutating operations on an attached
// handle are the caller's own fault.
func Attach(region []byte) (*FMem, error) {
	if uint64(len(region)) < uint64(page.HeaderSize+AcctSize) {
		return nil, ErrRegionTooSmall
	}
	head := page.At(unsafe.Pointer(unsafe.SliceData(region)))
	if err := head.CheckPoison(); err != nil {
		return nil, err
	}
	return &FMem{region: region, head: head, acct: (*acct)(head.Payload())}, nil
}

// Alloc returns a payload of at least n bytes, or ErrNoMem when no
// free page can serve the request. The walk is first-fit from the
// head; an oversized page is carved so that the allocation takes its
// high-address tail, keeping free space near the head of the list.
func (f *FMem) Alloc(n uint32) (unsafe.Pointer, error) {
	f.lock()
	defer f.unlock()

	need := n
	if need < uint32(f.acct.minAlloc) {
		need = uint32(f.acct.minAlloc)
	}
	if f.acct.totalAvailable < uint64(need) {
		return nil, ErrNoMem
	}

	var selected *page.Header
	carved := false
	sentinel := f.head.Node()
	for it := sentinel.Next(); it != sentinel; it = it.Next() {
		pg := page.FromNode(it)
		if err := pg.CheckPoison(); err != nil {
			return nil, err
		}
		if pg.Busy() {
			continue
		}
		fit := pg.FitFor(need)
		if fit == page.CanNotFit {
			continue
		}
		if fit == page.FitWithCarve {
			selected = pg.Carve(need)
			carved = true
		} else {
			selected = pg
		}
		break
	}
	if selected == nil {
		return nil, ErrNoMem
	}

	selected.SetBusy(true)
	selected.SetMagic(page.Poison)
	f.acct.totalAvailable -= uint64(selected.Size())
	f.acct.allocObjects++

	var err error
	if carved {
		// The carved sibling shrank and relinked, and the page after
		// the new one gained a prev pointer.
		prev := page.FromNode(selected.Node().Prev())
		next := page.FromNode(selected.Node().Next())
		err = f.commit(headerRange(selected), headerRange(prev), linkRange(next))
	} else {
		err = f.commit(headerRange(selected))
	}
	if err != nil {
		return nil, err
	}
	return selected.Payload(), nil
}

// Free releases a payload previously returned by Alloc, coalescing
// the page with any free neighbor. It returns the byte count the
// page occupied, header included.
func (f *FMem) Free(p unsafe.Pointer) (uint32, error) {
	f.lock()
	defer f.unlock()

	pg := page.FromPayload(p)
	if err := pg.CheckPoison(); err != nil {
		return 0, err
	}

	freed := pg.Size()
	pg.SetBusy(false)
	survivor := pg.Merge()

	f.acct.allocObjects--
	f.acct.totalAvailable += uint64(freed)

	prev := page.FromNode(survivor.Node().Prev())
	next := page.FromNode(survivor.Node().Next())
	if err := f.commit(headerRange(survivor), linkRange(prev), linkRange(next)); err != nil {
		return 0, err
	}
	return freed, nil
}

// CommitUserData persists the four client root-pointer slots as one
// contiguous range. The slots belong to the client, who serializes
// its own updates, so no lock is taken. Requires a committer.
func (f *FMem) CommitUserData() (int, error) {
	if f.committer == nil {
		return 0, ErrCommitFailed
	}
	if err := f.head.CheckPoison(); err != nil {
		return 0, err
	}
	n := len(f.acct.user) * int(unsafe.Sizeof(uintptr(0)))
	if err := f.commit(Range{Addr: unsafe.Pointer(&f.acct.user[0]), Len: uintptr(n)}); err != nil {
		return 0, err
	}
	return n, nil
}

// CommitMem persists length bytes of an allocated payload, the whole
// payload when length is zero. A range that runs past the page's
// payload is rejected as a failed commit. Requires a committer.
func (f *FMem) CommitMem(p unsafe.Pointer, length uintptr) (uintptr, error) {
	if f.committer == nil {
		return 0, ErrCommitFailed
	}
	pg := page.FromPayload(p)
	if err := pg.CheckPoison(); err != nil {
		return 0, err
	}
	if length == 0 {
		length = uintptr(pg.Actual())
	}
	if uintptr(p)+length > uintptr(pg.Payload())+uintptr(pg.Actual()) {
		return 0, ErrCommitFailed
	}
	if err := f.commit(Range{Addr: p, Len: length}); err != nil {
		return 0, err
	}
	return length, nil
}

// Head returns the head page. Exposed for the inspector; callers must
// not mutate it.
func (f *FMem) Head() *page.Header { return f.head }

// HasCommitter reports whether a committer is installed.
func (f *FMem) HasCommitter() bool { return f.committer != nil }

// TotalSize returns the region size in bytes.
func (f *FMem) TotalSize() uint64 { return f.acct.totalSize }

// TotalAvailable returns the bytes currently held by free pages,
// headers included.
func (f *FMem) TotalAvailable() uint64 { return f.acct.totalAvailable }

// AllocObjects returns the number of busy pages other than the head.
func (f *FMem) AllocObjects() uint64 { return f.acct.allocObjects }

// MinAlloc returns the minimum payload handed out per allocation.
func (f *FMem) MinAlloc() uint64 { return f.acct.minAlloc }

// User returns client root-pointer slot i. The allocator never
// interprets these values.
func (f *FMem) User(i int) uintptr { return f.acct.user[i] }

// SetUser stores a client root pointer in slot i.
func (f *FMem) SetUser(i int, v uintptr) { f.acct.user[i] = v }
