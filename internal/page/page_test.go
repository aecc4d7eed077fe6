package page_test

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/fmem-project/fmem/internal/page"
)

// newBuf returns an 8-byte-aligned scratch buffer big enough for n
// bytes of pages.
func newBuf(t *testing.T, n int) unsafe.Pointer {
	t.Helper()
	words := make([]uint64, (n+7)/8)
	return unsafe.Pointer(&words[0])
}

// mkPage formats a page at off inside buf and stamps its magic.
func mkPage(buf unsafe.Pointer, off, size uint32) *page.Header {
	h := page.At(unsafe.Add(buf, uintptr(off)))
	h.Format(size)
	h.SetMagic(page.Poison)
	return h
}

func TestHeaderLayout(t *testing.T) {
	// Persistent 64-bit layout: two uint32 fields plus two pointers.
	if page.HeaderSize != 24 {
		t.Fatalf("HeaderSize = %d, want 24", page.HeaderSize)
	}
	if page.RemainFree != 2*page.HeaderSize {
		t.Fatalf("RemainFree = %d, want %d", page.RemainFree, 2*page.HeaderSize)
	}
}

func TestFlagIndependence(t *testing.T) {
	buf := newBuf(t, 64)
	h := page.At(buf)
	h.Format(64)

	h.SetMagic(page.Poison)
	h.SetBusy(true)
	if h.Magic() != page.Poison {
		t.Error("SetBusy clobbered the magic bits")
	}
	h.SetMagic(0x1234)
	if !h.Busy() {
		t.Error("SetMagic clobbered the busy bit")
	}
	h.SetBusy(false)
	if h.Magic() != 0x1234 {
		t.Error("clearing busy clobbered the magic bits")
	}
	if h.Busy() {
		t.Error("busy bit did not clear")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	buf := newBuf(t, 256)
	h := mkPage(buf, 0, 256)

	if got := page.FromPayload(h.Payload()); got != h {
		t.Error("FromPayload must invert Payload")
	}
	if got := page.FromNode(h.Node()); got != h {
		t.Error("FromNode must recover the enclosing header")
	}
	if h.Actual() != 256-page.HeaderSize {
		t.Errorf("Actual() = %d, want %d", h.Actual(), 256-page.HeaderSize)
	}
}

func TestFitFor(t *testing.T) {
	const size = 1024
	buf := newBuf(t, size)
	h := mkPage(buf, 0, size)
	avail := h.Actual()

	cases := []struct {
		name string
		need uint32
		want page.Fit
	}{
		{"way too big", avail + 1000, page.CanNotFit},
		{"one over", avail + 1, page.CanNotFit},
		{"exact", avail, page.FitAsIs},
		{"leftover below threshold", avail - page.RemainFree + 1, page.FitAsIs},
		{"leftover at threshold", avail - page.RemainFree, page.FitAsIs},
		{"leftover just above threshold", avail - page.RemainFree - 1, page.FitWithCarve},
		{"small", 8, page.FitWithCarve},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := h.FitFor(tc.need); got != tc.want {
				t.Errorf("FitFor(%d) = %v, want %v", tc.need, got, tc.want)
			}
		})
	}
}

func TestCarve(t *testing.T) {
	const size = 4096
	const need = 512
	buf := newBuf(t, size)
	h := mkPage(buf, 0, size)

	nh := h.Carve(need)

	if h.Size()+nh.Size() != size {
		t.Errorf("sizes after carve sum to %d, want %d", h.Size()+nh.Size(), size)
	}
	if nh.Size() != need+page.HeaderSize {
		t.Errorf("new page size = %d, want %d", nh.Size(), need+page.HeaderSize)
	}
	if page.FromNode(h.Node().Next()) != nh {
		t.Error("new page must be linked immediately after the carved page")
	}
	wantAddr := unsafe.Add(unsafe.Pointer(h), uintptr(h.Size()))
	if unsafe.Pointer(nh) != wantAddr {
		t.Error("new page must start where the shrunk page ends")
	}
	if uintptr(unsafe.Pointer(nh)) <= uintptr(unsafe.Pointer(h)) {
		t.Error("carved payload must sit at the higher address")
	}
	if nh.Busy() || nh.Magic() != 0 {
		t.Error("carved header must start out zeroed")
	}
}

// chain builds n contiguous pages of the given size and links them in
// memory order, returning them.
func chain(t *testing.T, buf unsafe.Pointer, n int, size uint32) []*page.Header {
	t.Helper()
	pages := make([]*page.Header, n)
	for i := range pages {
		pages[i] = mkPage(buf, uint32(i)*size, size)
		if i > 0 {
			pages[0].Node().AddBefore(pages[i].Node())
		}
	}
	return pages
}

func TestMerge(t *testing.T) {
	H := page.HeaderSize

	t.Run("three way", func(t *testing.T) {
		buf := newBuf(t, int(40*H))
		pages := chain(t, buf, 4, 10*H)
		a, b, c, d := pages[0], pages[1], pages[2], pages[3]
		a.SetBusy(true)

		surv := c.Merge()
		if surv != b {
			t.Fatal("three-way merge must survive as the predecessor")
		}
		if b.Size() != 30*H {
			t.Errorf("merged size = %d, want %d", b.Size(), 30*H)
		}
		if a.Node().Len() != 1 {
			t.Errorf("list length = %d, want 2 pages total", a.Node().Len()+1)
		}
		_ = d
	})

	t.Run("prev free", func(t *testing.T) {
		buf := newBuf(t, int(30*H))
		pages := chain(t, buf, 3, 10*H)
		a, b, c := pages[0], pages[1], pages[2]
		a.SetBusy(true)
		c.SetBusy(true)

		// Free c, then merge: only b (prev) is free.
		c.SetBusy(false)
		surv := c.Merge()
		if surv != b || b.Size() != 20*H {
			t.Errorf("prev merge survivor size = %d, want %d", surv.Size(), 20*H)
		}
	})

	t.Run("next free", func(t *testing.T) {
		buf := newBuf(t, int(30*H))
		pages := chain(t, buf, 3, 10*H)
		a, b, c := pages[0], pages[1], pages[2]
		a.SetBusy(true)
		b.SetBusy(true)

		b.SetBusy(false)
		surv := b.Merge()
		if surv != b || b.Size() != 20*H {
			t.Errorf("next merge survivor size = %d, want %d", surv.Size(), 20*H)
		}
		_ = c
	})

	t.Run("no free neighbor", func(t *testing.T) {
		buf := newBuf(t, int(30*H))
		pages := chain(t, buf, 3, 10*H)
		a, b, c := pages[0], pages[1], pages[2]
		a.SetBusy(true)
		c.SetBusy(true)

		surv := b.Merge()
		if surv != b || b.Size() != 10*H {
			t.Error("merge with busy neighbors must not change anything")
		}
		if a.Node().Len() != 2 {
			t.Error("merge with busy neighbors must not unlink pages")
		}
	})

	t.Run("single page", func(t *testing.T) {
		buf := newBuf(t, int(10*H))
		h := mkPage(buf, 0, 10*H)
		if surv := h.Merge(); surv != h || h.Size() != 10*H {
			t.Error("merging a single-page list must be a no-op")
		}
	})
}

func TestCheckPoison(t *testing.T) {
	buf := newBuf(t, 64)
	h := mkPage(buf, 0, 64)

	if err := h.CheckPoison(); err != nil {
		t.Fatalf("CheckPoison on healthy page: %v", err)
	}

	h.SetMagic(0)
	err := h.CheckPoison()
	if !errors.Is(err, page.ErrBadMagic) {
		t.Fatalf("CheckPoison = %v, want ErrBadMagic", err)
	}
	var ce *page.CorruptionError
	if !errors.As(err, &ce) {
		t.Fatal("poison failure must carry a CorruptionError")
	}
	if ce.Header != h || ce.Got != 0 {
		t.Errorf("CorruptionError = {%p %#x}, want {%p 0}", ce.Header, ce.Got, h)
	}
}

func TestOriginBase(t *testing.T) {
	// The populated shape creation leaves behind: a head page with a
	// second page linked right after it in memory. The head's prev is
	// no longer a self-loop once that link exists, so recovery must
	// work from the next pointer.
	const headSize = 96
	buf := newBuf(t, 1024)
	head := mkPage(buf, 0, headSize)
	head.SetBusy(true)
	main := mkPage(buf, headSize, 1024-headSize)
	head.Node().AddAfter(main.Node())

	raw := unsafe.Slice((*byte)(unsafe.Pointer(head)), page.HeaderSize)
	base, ok := page.OriginBase(raw)
	if !ok {
		t.Fatal("OriginBase failed on a populated head page")
	}
	if base != uintptr(buf) {
		t.Errorf("OriginBase = %#x, want %#x", base, uintptr(buf))
	}

	if _, ok := page.OriginBase(raw[:8]); ok {
		t.Error("OriginBase must reject a short buffer")
	}
	if _, ok := page.OriginBase(make([]byte, page.HeaderSize)); ok {
		t.Error("OriginBase must reject a zeroed header")
	}
}
