package fmem

import (
	"runtime"
	"sync/atomic"
)

// The lock is a bare CAS spin on the 32-bit word inside the
// accounting block. A word in the region is the only primitive every
// process mapping it can share; OS mutexes are process-local. The
// committer may block while the lock is held, which is accepted:
// persistence is guaranteed before an operation returns.

func (f *FMem) lock() {
	for !atomic.CompareAndSwapUint32(&f.acct.lock, 0, 1) {
		runtime.Gosched()
	}
}

func (f *FMem) unlock() {
	atomic.StoreUint32(&f.acct.lock, 0)
}
