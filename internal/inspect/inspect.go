// Package inspect reads an allocator region back out: a page table
// walk, an invariant checker, and a pprof-format census of busy
// pages for visualization with standard profiling tooling.
package inspect

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/fmem-project/fmem/internal/fmem"
	"github.com/fmem-project/fmem/internal/page"
)

// PageInfo describes one page of the region.
type PageInfo struct {
	Offset  uintptr // from the region base
	Size    uint32  // header included
	Busy    bool
	MagicOK bool
}

// Walk returns the page table in list order, head first. List order
// equals memory order for a healthy region; Verify checks that it
// does.
func Walk(f *fmem.FMem) []PageInfo {
	head := f.Head()
	base := uintptr(unsafe.Pointer(head))

	describe := func(pg *page.Header) PageInfo {
		return PageInfo{
			Offset:  uintptr(unsafe.Pointer(pg)) - base,
			Size:    pg.Size(),
			Busy:    pg.Busy(),
			MagicOK: pg.Magic() == page.Poison,
		}
	}

	infos := []PageInfo{describe(head)}
	sentinel := head.Node()
	for it := sentinel.Next(); it != sentinel; it = it.Next() {
		infos = append(infos, describe(page.FromNode(it)))
	}
	return infos
}

// Verify checks the region against the allocator's invariants:
// intact magic on every page, memory contiguity in list order, size
// sums matching the accounting block, the busy-page count matching
// the live-object count, and no adjacent free pages (those must have
// been coalesced). It reports the first violation found.
func Verify(f *fmem.FMem) error {
	pages := Walk(f)

	var sizeSum, freeSum, busyCount uint64
	expectOffset := uintptr(0)
	prevFree := false

	for i, p := range pages {
		if !p.MagicOK {
			return fmt.Errorf("page %d at offset %#x: magic mismatch", i, p.Offset)
		}
		if p.Offset != expectOffset {
			return fmt.Errorf("page %d at offset %#x: expected offset %#x (pages not contiguous)", i, p.Offset, expectOffset)
		}
		if p.Size < page.HeaderSize {
			return fmt.Errorf("page %d at offset %#x: size %d below header size", i, p.Offset, p.Size)
		}
		expectOffset += uintptr(p.Size)
		sizeSum += uint64(p.Size)

		free := !p.Busy
		if free {
			freeSum += uint64(p.Size)
			if prevFree {
				return fmt.Errorf("pages %d and %d at offset %#x: adjacent free pages not coalesced", i-1, i, p.Offset)
			}
		} else if i > 0 {
			busyCount++
		}
		prevFree = free
	}

	if sizeSum != f.TotalSize() {
		return fmt.Errorf("page sizes sum to %d, accounting says %d", sizeSum, f.TotalSize())
	}
	if freeSum != f.TotalAvailable() {
		return fmt.Errorf("free pages sum to %d, accounting says %d available", freeSum, f.TotalAvailable())
	}
	if busyCount != f.AllocObjects() {
		return fmt.Errorf("%d busy pages, accounting says %d live objects", busyCount, f.AllocObjects())
	}
	return nil
}

// Dump writes a human-readable page table and the accounting block.
func Dump(w io.Writer, f *fmem.FMem) {
	fmt.Fprintf(w, "region: total=%d available=%d objects=%d min_alloc=%d\n",
		f.TotalSize(), f.TotalAvailable(), f.AllocObjects(), f.MinAlloc())
	for i := 0; i < 4; i++ {
		fmt.Fprintf(w, "user%d: %#x\n", i+1, f.User(i))
	}
	for i, p := range Walk(f) {
		state := "free"
		if p.Busy {
			state = "busy"
		}
		magic := "ok"
		if !p.MagicOK {
			magic = "BAD"
		}
		fmt.Fprintf(w, "page %3d  off=%#010x  size=%-10d %s  magic=%s\n", i, p.Offset, p.Size, state, magic)
	}
}
