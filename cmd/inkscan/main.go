// inkscan seeds the photo catalog with EXIF metadata (capture date, GPS, size, orientation).
// Scores and captions are left for the scoring pipeline to fill in.
package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/tstromberg/inktime/pkg/inktime"
)

var dryRun = flag.Bool("n", false, "dry-run mode, don't write to the catalog")

func main() {
	_ = godotenv.Load()

	dbPath := flag.String("db", os.Getenv("INKTIME_DB"), "Location of the photo catalog database")
	klog.InitFlags(nil)
	flag.Parse()

	dirs := flag.Args()
	if len(dirs) == 0 {
		if d := os.Getenv("INKTIME_IMAGE_DIR"); d != "" {
			dirs = []string{d}
		}
	}
	if len(dirs) == 0 {
		klog.Exitf("No input directories provided. Usage: %s -db <photos.db> <input_dir1> [input_dir2 ...]", os.Args[0])
	}
	if *dbPath == "" {
		*dbPath = inktime.DefaultConfig().DBPath
	}

	cat, err := inktime.OpenCatalog(*dbPath)
	if err != nil {
		klog.Exitf("catalog: %v", err)
	}
	defer cat.Close()

	total, undated := 0, 0
	for _, d := range dirs {
		ps, err := inktime.Find(d)
		if err != nil {
			klog.Exitf("unable to scan %s: %v", d, err)
		}
		klog.Infof("found %d photos in %s", len(ps), d)

		for _, p := range ps {
			total++
			if p.Taken.IsZero() {
				undated++
				klog.Warningf("%s has no capture date and will never be picked", p.Path)
			}
			if *dryRun {
				klog.Infof("would add %s (%s)", p.Path, p.ExifJSON)
				continue
			}
			if err := cat.PutExif(p); err != nil {
				klog.Errorf("unable to store %s: %v", p.Path, err)
			}
		}
	}

	klog.Infof("inkscan completed. %d photos scanned, %d without a capture date", total, undated)
}
