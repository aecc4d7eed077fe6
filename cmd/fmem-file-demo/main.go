// Command fmem-file-demo exercises the allocator over a file-backed
// region: -i creates and populates it, -r reopens and verifies it
// (typically from a different process), -c removes the backing file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fmem-project/fmem/internal/fmem"
	"github.com/fmem-project/fmem/internal/inspect"
	"github.com/fmem-project/fmem/internal/region"
	"github.com/fmem-project/fmem/internal/things"
)

func main() {
	var (
		initMode = flag.Bool("i", false, "create the region and populate it")
		readMode = flag.Bool("r", false, "reopen the region and verify its contents")
		cleanup  = flag.Bool("c", false, "remove the backing file")
		path     = flag.String("path", "/tmp/fmem-demo.bin", "backing file path")
		size     = flag.Int("size", 1<<20, "region size in bytes for -i")
		count    = flag.Int("things", 64, "records to build for -i")
	)
	flag.Parse()

	switch {
	case *initMode:
		doInit(*path, *size, *count)
	case *readMode:
		doRead(*path)
	case *cleanup:
		if err := os.Remove(*path); err != nil {
			log.Fatalf("remove %s: %v", *path, err)
		}
		fmt.Printf("removed %s\n", *path)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func doInit(path string, size, count int) {
	seg, err := region.Create(path, size)
	if err != nil {
		log.Fatalf("create region: %v", err)
	}
	f, err := fmem.CreateNew(seg.Bytes(), 0, seg.Committer())
	if err != nil {
		log.Fatalf("init allocator: %v", err)
	}
	if err := things.Build(f, count); err != nil {
		log.Fatalf("build records: %v", err)
	}
	if err := inspect.Verify(f); err != nil {
		log.Fatalf("verify after build: %v", err)
	}
	fmt.Printf("created %s: %d bytes, %d records, %d bytes available\n",
		path, f.TotalSize(), f.AllocObjects(), f.TotalAvailable())
	if err := seg.Close(); err != nil {
		log.Fatalf("close region: %v", err)
	}
}

func doRead(path string) {
	seg, err := region.Open(path)
	if err != nil {
		log.Fatalf("open region: %v", err)
	}
	f, err := fmem.Reopen(seg.Bytes(), seg.Committer())
	if err != nil {
		log.Fatalf("reopen allocator: %v", err)
	}
	if err := inspect.Verify(f); err != nil {
		log.Fatalf("region invariants: %v", err)
	}
	if err := things.Verify(f); err != nil {
		log.Fatalf("record round-trip: %v", err)
	}
	fmt.Printf("verified %s: %d records intact, %d bytes available\n",
		path, f.AllocObjects(), f.TotalAvailable())
	if err := seg.Close(); err != nil {
		log.Fatalf("close region: %v", err)
	}
}
