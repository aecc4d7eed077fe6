// Package region produces the fixed byte regions the allocator runs
// inside, by memory-mapping a file or a POSIX shared-memory object.
// A region created here and reopened later is mapped back at the
// virtual address it was created at, which is what keeps the
// allocator's absolute in-region links valid across processes.
package region

import (
	"errors"
	"os"
	"path/filepath"
)

// shmDir is where shm_open(3) places shared-memory objects on Linux.
const shmDir = "/dev/shm"

var (
	// ErrBaseUnknown means the backing bytes do not carry a
	// recoverable original mapping address.
	ErrBaseUnknown = errors.New("region: cannot recover original mapping address")

	// ErrBaseOccupied means the original address range is already
	// mapped in this process.
	ErrBaseOccupied = errors.New("region: original mapping address occupied")
)

// Segment is a mapped region plus its backing file.
type Segment struct {
	data   []byte
	f      *os.File
	path   string
	viaPtr bool // mapped at a fixed address through the raw mmap syscall
}

// Bytes returns the mapped region.
func (s *Segment) Bytes() []byte { return s.data }

// Path returns the backing file path.
func (s *Segment) Path() string { return s.path }

// ShmPath resolves a shared-memory object name to its backing path.
func ShmPath(name string) string {
	return filepath.Join(shmDir, name)
}
