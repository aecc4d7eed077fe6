package fmem

import (
	"fmt"
	"unsafe"

	"github.com/fmem-project/fmem/internal/list"
	"github.com/fmem-project/fmem/internal/page"
)

// Range identifies one dirtied byte range inside the region. Addresses
// are raw in-region pointers; a committer that hands them to an OS
// flush primitive owns any alignment that primitive requires.
type Range struct {
	Addr unsafe.Pointer
	Len  uintptr
}

// Committer persists a scatter/gather batch of dirtied ranges to the
// backing store. The allocator assumes the ranges are durable by the
// time the call returns; a committer wanting asynchronous behavior
// must copy the batch before returning. A nil error is success, any
// error is fatal for the operation that issued the commit.
//
// Committers are process-local. They are never written into the
// region and must be re-supplied on every Reopen.
type Committer func(ranges []Range) error

// commit forwards a batch to the installed committer, if any.
func (f *FMem) commit(ranges ...Range) error {
	if f.committer == nil {
		return nil
	}
	if err := f.committer(ranges); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	return nil
}

// headerRange covers a page's full header.
func headerRange(h *page.Header) Range {
	return Range{Addr: unsafe.Pointer(h), Len: uintptr(page.HeaderSize)}
}

// linkRange covers just a page's link pair, for neighbors whose only
// mutation was a relinked pointer.
func linkRange(h *page.Header) Range {
	return Range{Addr: unsafe.Pointer(h.Node()), Len: unsafe.Sizeof(list.Node{})}
}
