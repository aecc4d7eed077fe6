// Command fmem-inspect dumps an allocator region without mutating
// it: the page table, the accounting block, optional invariant
// verification, an optional pprof census of busy pages, and a watch
// mode that re-verifies the region whenever another process writes
// the backing file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/fmem-project/fmem/internal/fmem"
	"github.com/fmem-project/fmem/internal/inspect"
	"github.com/fmem-project/fmem/internal/region"
)

func main() {
	var (
		path    = flag.String("path", "", "backing file of the region (required)")
		verify  = flag.Bool("verify", false, "check region invariants")
		profOut = flag.String("profile", "", "write a pprof census of busy pages to this file")
		watch   = flag.Bool("watch", false, "re-verify on every change of the backing file")
	)
	flag.Parse()
	if *path == "" {
		flag.Usage()
		os.Exit(2)
	}

	seg, err := region.OpenReadOnly(*path)
	if err != nil {
		log.Fatalf("open region: %v", err)
	}
	defer seg.Close()

	f, err := fmem.Attach(seg.Bytes())
	if err != nil {
		log.Fatalf("attach allocator: %v", err)
	}

	inspect.Dump(os.Stdout, f)

	if *verify {
		if err := inspect.Verify(f); err != nil {
			log.Fatalf("verify: %v", err)
		}
		fmt.Println("invariants: ok")
	}

	if *profOut != "" {
		out, err := os.Create(*profOut)
		if err != nil {
			log.Fatalf("create %s: %v", *profOut, err)
		}
		if err := inspect.WriteProfile(out, f); err != nil {
			log.Fatalf("write profile: %v", err)
		}
		if err := out.Close(); err != nil {
			log.Fatalf("close %s: %v", *profOut, err)
		}
		fmt.Printf("profile written to %s\n", *profOut)
	}

	if *watch {
		watchRegion(*path, f)
	}
}

// watchRegion re-runs the invariant checker every time the backing
// file changes. The mapping is MAP_SHARED, so the mapped bytes are
// already current by the time the event arrives.
func watchRegion(path string, f *fmem.FMem) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatalf("watch: %v", err)
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		log.Fatalf("watch %s: %v", path, err)
	}
	log.Printf("watching %s", path)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
				log.Printf("%s gone, stopping", path)
				return
			}
			if ev.Op&fsnotify.Write == 0 {
				continue
			}
			if err := inspect.Verify(f); err != nil {
				log.Printf("verify after change: %v", err)
			} else {
				log.Printf("verify after change: ok (%d objects, %d bytes available)",
					f.AllocObjects(), f.TotalAvailable())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("watch error: %v", err)
		}
	}
}
