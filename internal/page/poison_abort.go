//go:build fmem_abort

package page

import "log"

// In hardened builds a poison failure terminates the process: the
// region can no longer be trusted and continuing would let corrupted
// links walk arbitrary memory.

func poisonFailure(h *Header, got uint16) error {
	log.Fatalf("fmem: corrupted page header at %p: magic %#04x, want %#04x", h, got, Poison)
	return nil // unreachable
}
