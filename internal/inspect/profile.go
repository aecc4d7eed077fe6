package inspect

import (
	"io"
	"time"

	"github.com/google/pprof/profile"

	"github.com/fmem-project/fmem/internal/fmem"
	"github.com/fmem-project/fmem/internal/page"
)

// WriteProfile emits the busy-page census as a gzipped pprof profile
// with heap-style inuse_objects/inuse_space sample types, one sample
// per busy page keyed by its region offset. The head page is
// bookkeeping, not a client allocation, and is skipped.
func WriteProfile(w io.Writer, f *fmem.FMem) error {
	p := &profile.Profile{
		TimeNanos: time.Now().UnixNano(),
		SampleType: []*profile.ValueType{
			{Type: "inuse_objects", Unit: "count"},
			{Type: "inuse_space", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
	}

	fn := &profile.Function{
		ID:         1,
		Name:       "fmem.page",
		SystemName: "fmem.page",
	}
	p.Function = []*profile.Function{fn}

	for _, info := range Walk(f) {
		if !info.Busy || info.Offset == 0 {
			continue
		}
		loc := &profile.Location{
			ID:      uint64(len(p.Location) + 1),
			Address: uint64(info.Offset),
			Line:    []profile.Line{{Function: fn, Line: int64(info.Offset)}},
		}
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1, int64(info.Size - page.HeaderSize)},
			NumLabel: map[string][]int64{
				"offset": {int64(info.Offset)},
				"size":   {int64(info.Size)},
			},
		})
	}
	return p.Write(w)
}
