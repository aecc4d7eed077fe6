//go:build linux

package region

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/fmem-project/fmem/internal/fmem"
	"github.com/fmem-project/fmem/internal/page"
)

// Create makes a size-byte backing file at path and maps it shared
// and writable. The file must not already exist.
func Create(path string, size int) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("region: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("region: truncate %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("region: mmap %s: %w", path, err)
	}
	return &Segment{data: data, f: f, path: path}, nil
}

// Open maps an existing backing file at the virtual address it was
// created at. The original base is recovered from the head page bytes
// in the file, then requested with MAP_FIXED_NOREPLACE so an occupied
// range fails instead of silently clobbering another mapping.
func Open(path string) (*Segment, error) {
	return open(path, unix.PROT_READ|unix.PROT_WRITE)
}

// OpenReadOnly maps an existing backing file at its original address
// without write access, for inspection.
func OpenReadOnly(path string) (*Segment, error) {
	return open(path, unix.PROT_READ)
}

func open(path string, prot int) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("region: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("region: stat %s: %w", path, err)
	}
	size := int(st.Size())

	raw := make([]byte, page.HeaderSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("region: read head page of %s: %w", path, err)
	}
	base, ok := page.OriginBase(raw)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrBaseUnknown, path)
	}

	addr, err := mmap(base, uintptr(size), prot,
		unix.MAP_SHARED|unix.MAP_FIXED_NOREPLACE, int(f.Fd()), 0)
	if err != nil {
		f.Close()
		if err == unix.EEXIST {
			return nil, fmt.Errorf("%w: %#x", ErrBaseOccupied, base)
		}
		return nil, fmt.Errorf("region: mmap %s at %#x: %w", path, base, err)
	}
	if addr != base {
		// Pre-4.17 kernels ignore MAP_FIXED_NOREPLACE and treat the
		// address as a hint.
		munmap(addr, uintptr(size))
		f.Close()
		return nil, fmt.Errorf("%w: %#x", ErrBaseOccupied, base)
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return &Segment{data: data, f: f, path: path, viaPtr: true}, nil
}

// mmap and munmap wrap the raw syscalls. The unix package's Mmap has
// no address parameter, so a fixed-address mapping has to go through
// the syscall interface directly.
func mmap(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length,
		uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}
	return r1, nil
}

func munmap(addr, length uintptr) error {
	if _, _, errno := unix.Syscall6(unix.SYS_MUNMAP, addr, length, 0, 0, 0, 0); errno != 0 {
		return errno
	}
	return nil
}

// CreateShm creates and maps a POSIX shared-memory object. On Linux
// shm_open is an open(2) on the shm tmpfs, so the plain file path
// goes through Create.
func CreateShm(name string, size int) (*Segment, error) {
	return Create(ShmPath(name), size)
}

// OpenShm maps an existing shared-memory object at its original
// address.
func OpenShm(name string) (*Segment, error) {
	return Open(ShmPath(name))
}

// UnlinkShm removes a shared-memory object.
func UnlinkShm(name string) error {
	return os.Remove(ShmPath(name))
}

// Committer returns a committer that flushes each range to the
// backing store with a synchronous msync. Range addresses arrive with
// arbitrary alignment; msync requires page alignment, so every range
// is widened to the pages covering it.
func (s *Segment) Committer() fmem.Committer {
	pageSize := uintptr(os.Getpagesize())
	return func(ranges []fmem.Range) error {
		for _, r := range ranges {
			start := uintptr(r.Addr) &^ (pageSize - 1)
			end := uintptr(r.Addr) + r.Len
			b := unsafe.Slice((*byte)(unsafe.Pointer(start)), end-start)
			if err := unix.Msync(b, unix.MS_SYNC); err != nil {
				return fmt.Errorf("region: msync %s: %w", s.path, err)
			}
		}
		return nil
	}
}

// Close unmaps the region and closes the backing file. The backing
// store itself stays.
func (s *Segment) Close() error {
	var err error
	if s.viaPtr {
		// Raw-syscall mappings are unknown to the unix package's
		// mapping registry, so they unmap through the raw syscall too.
		err = munmap(uintptr(unsafe.Pointer(unsafe.SliceData(s.data))), uintptr(len(s.data)))
	} else {
		err = unix.Munmap(s.data)
	}
	s.data = nil
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Remove unmaps the region and deletes its backing file.
func (s *Segment) Remove() error {
	err := s.Close()
	if rerr := os.Remove(s.path); err == nil {
		err = rerr
	}
	return err
}
