package fmem

import (
	"errors"

	"github.com/fmem-project/fmem/internal/page"
)

var (
	// ErrRegionTooSmall rejects a region smaller than the head page
	// and accounting block plus two more page headers' worth of bytes
	// (3*HeaderSize + AcctSize).
	ErrRegionTooSmall = errors.New("fmem: region too small for allocator bookkeeping")

	// ErrBadInitMem rejects a region that is valid for bookkeeping
	// but cannot satisfy even a single minimum allocation, or whose
	// base address is unusable.
	ErrBadInitMem = errors.New("fmem: unusable init region")

	// ErrNoMem reports that no free page can serve the request.
	ErrNoMem = errors.New("fmem: out of memory")

	// ErrCommitFailed reports a committer that returned an error or
	// a commit range that fell outside its page. After a failed
	// commit the in-region state has already been mutated and the
	// allocator must be treated as unusable.
	ErrCommitFailed = errors.New("fmem: commit failed")

	// ErrCorrupted matches any poison-check failure surfaced by the
	// allocator.
	ErrCorrupted = page.ErrBadMagic
)
