package fmem_test

import (
	"testing"
	"unsafe"

	"github.com/fmem-project/fmem/internal/fmem"
)

// newRegion returns an 8-byte-aligned n-byte buffer to stand in for a
// mapped region.
func newRegion(t *testing.T, n int) []byte {
	t.Helper()
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// listLen counts all pages including the head.
func listLen(f *fmem.FMem) int {
	return f.Head().Node().Len() + 1
}
