// Package things builds a small object graph inside an allocator
// region and verifies it after a reopen. It exists to exercise the
// full persistence path end to end: allocations, client payload
// writes, root pointers in the user slots, and commits of all three.
package things

import (
	"fmt"
	"unsafe"

	"github.com/fmem-project/fmem/internal/fmem"
)

// Thing is one fixed-size record. next is the absolute address of
// the following record, zero at the end of the chain; like every
// pointer in the region it is only valid at the original mapping
// address.
type Thing struct {
	ID   uint64
	Sum  uint64
	Next uintptr
	Data [40]byte
}

// ThingSize is the allocation size of one record.
const ThingSize = uint32(unsafe.Sizeof(Thing{}))

const (
	rootSlot  = 0
	countSlot = 1
)

// fill writes a deterministic payload for id and stores its checksum
// in t.Sum.
func fill(t *Thing, id uint64) {
	t.ID = id
	for i := range t.Data {
		t.Data[i] = byte(id + uint64(i)*7)
	}
	t.Sum = checksum(t)
}

func checksum(t *Thing) uint64 {
	// FNV-1a over id and payload.
	sum := uint64(14695981039346656037)
	mix := func(b byte) {
		sum ^= uint64(b)
		sum *= 1099511628211
	}
	for i := 0; i < 8; i++ {
		mix(byte(t.ID >> (8 * i)))
	}
	for _, b := range t.Data {
		mix(b)
	}
	return sum
}

// Build allocates n chained records, stores the chain root in user
// slot 0 and the count in user slot 1, and commits payloads and user
// slots when the allocator has a committer.
func Build(f *fmem.FMem, n int) error {
	var first, prev *Thing
	for i := 0; i < n; i++ {
		p, err := f.Alloc(ThingSize)
		if err != nil {
			return fmt.Errorf("things: alloc record %d: %w", i, err)
		}
		t := (*Thing)(p)
		fill(t, uint64(i+1))
		t.Next = 0

		if prev != nil {
			prev.Next = uintptr(p)
		} else {
			first = t
		}
		prev = t
	}

	if first != nil {
		f.SetUser(rootSlot, uintptr(unsafe.Pointer(first)))
	} else {
		f.SetUser(rootSlot, 0)
	}
	f.SetUser(countSlot, uintptr(n))

	if !f.HasCommitter() {
		return nil
	}
	for t := first; t != nil; t = (*Thing)(unsafe.Pointer(t.Next)) {
		if _, err := f.CommitMem(unsafe.Pointer(t), 0); err != nil {
			return fmt.Errorf("things: commit record %d: %w", t.ID, err)
		}
	}
	if _, err := f.CommitUserData(); err != nil {
		return fmt.Errorf("things: commit roots: %w", err)
	}
	return nil
}

// Verify walks the chain from the stored root and checks ids,
// checksums and the stored count.
func Verify(f *fmem.FMem) error {
	want := uint64(f.User(countSlot))
	var seen uint64
	for addr := f.User(rootSlot); addr != 0; {
		t := (*Thing)(unsafe.Pointer(addr))
		seen++
		if t.ID != seen {
			return fmt.Errorf("things: record %d: id %d out of order", seen, t.ID)
		}
		if got := checksum(t); got != t.Sum {
			return fmt.Errorf("things: record %d: checksum %#x, want %#x", seen, got, t.Sum)
		}
		addr = t.Next
	}
	if seen != want {
		return fmt.Errorf("things: walked %d records, root slot says %d", seen, want)
	}
	return nil
}

// Drop frees the whole chain and clears the root slots.
func Drop(f *fmem.FMem) error {
	addr := f.User(rootSlot)
	for addr != 0 {
		t := (*Thing)(unsafe.Pointer(addr))
		next := t.Next
		if _, err := f.Free(unsafe.Pointer(t)); err != nil {
			return fmt.Errorf("things: free record %d: %w", t.ID, err)
		}
		addr = next
	}
	f.SetUser(rootSlot, 0)
	f.SetUser(countSlot, 0)
	if f.HasCommitter() {
		if _, err := f.CommitUserData(); err != nil {
			return fmt.Errorf("things: commit cleared roots: %w", err)
		}
	}
	return nil
}
