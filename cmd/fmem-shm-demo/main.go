// Command fmem-shm-demo is the shared-memory twin of fmem-file-demo:
// the region lives in a POSIX shared-memory object, so a second
// process can reopen it while the first is still alive, or after a
// restart as long as the object is not unlinked.
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
		initMode = flag.Bool("i", false, "create the shared-memory object and populate it")
		readMode = flag.Bool("r", false, "reopen the object and verify its contents")
		cleanup  = flag.Bool("c", false, "unlink the shared-memory object")
		name     = flag.String("name", "fmem-demo", "shared-memory object name")
		size     = flag.Int("size", 1<<20, "region size in bytes for -i")
		count    = flag.Int("things", 64, "records to build for -i")
	)
	flag.Parse()

	switch {
	case *initMode:
		seg, err := region.CreateShm(*name, *size)
		if err != nil {
			log.Fatalf("create shm region: %v", err)
		}
		f, err := fmem.CreateNew(seg.Bytes(), 0, seg.Committer())
		if err != nil {
			log.Fatalf("init allocator: %v", err)
		}
		if err := things.Build(f, *count); err != nil {
			log.Fatalf("build records: %v", err)
		}
		fmt.Printf("created shm %s: %d records, %d bytes available\n",
			*name, f.AllocObjects(), f.TotalAvailable())
		if err := seg.Close(); err != nil {
			log.Fatalf("close region: %v", err)
		}
	case *readMode:
		seg, err := region.OpenShm(*name)
		if err != nil {
			log.Fatalf("open shm region: %v", err)
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
		fmt.Printf("verified shm %s: %d records intact\n", *name, f.AllocObjects())
		if err := seg.Close(); err != nil {
			log.Fatalf("close region: %v", err)
		}
	case *cleanup:
		if err := region.UnlinkShm(*name); err != nil {
			log.Fatalf("unlink shm %s: %v", *name, err)
		}
		fmt.Printf("unlinked shm %s\n", *name)
	default:
		flag.Usage()
		os.Exit(2)
	}
}
