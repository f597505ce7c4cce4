package inktime

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

var exifDate = "2006:01:02 15:04:05"

// photoExts are the formats the compositor can decode.
var photoExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// read extracts the catalog's EXIF-derived columns for a single file.
func read(path string, et *exiftool.Exiftool) (*Photo, error) {
	fis := et.ExtractMetadata(path)
	fi := fis[0]
	p := &Photo{Path: path}
	var err error

	if fi.Err != nil {
		return p, fmt.Errorf("extract fail for %q: %w", path, fi.Err)
	}

	for k, v := range fi.Fields {
		klog.V(2).Infof("%q=%v\n", k, v)
	}

	e := ExifSummary{}

	e.Make, err = fi.GetString("Make")
	if err != nil {
		klog.V(1).Infof("unable to get make for %s: %v", path, err)
	}

	e.Model, err = fi.GetString("Model")
	if err != nil {
		klog.V(1).Infof("unable to get model for %s: %v", path, err)
	}

	p.Height, err = fi.GetInt("ImageHeight")
	if err != nil {
		return p, fmt.Errorf("get ImageHeight: %w", err)
	}

	p.Width, err = fi.GetInt("ImageWidth")
	if err != nil {
		return p, fmt.Errorf("get ImageWidth: %w", err)
	}

	p.Orientation, err = fi.GetString("Orientation")
	if err != nil {
		klog.V(1).Infof("unable to get orientation for %s: %v", path, err)
	}

	e.ISO, err = fi.GetInt("ISO")
	if err != nil {
		klog.V(1).Infof("unable to get ISO for %s: %v", path, err)
	}

	e.FNumber, err = fi.GetFloat("FNumber")
	if err != nil {
		klog.V(1).Infof("unable to get aperture for %s: %v", path, err)
	}

	e.ExposureTime, err = fi.GetString("ExposureTime")
	if err != nil {
		klog.V(1).Infof("unable to get exposure for %s: %v", path, err)
	}

	e.FocalLength, err = fi.GetString("FocalLength")
	if err != nil {
		klog.V(1).Infof("unable to get focal length for %s: %v", path, err)
	}
	e.FocalLength = strings.ReplaceAll(e.FocalLength, ".0 ", " ")

	lat, laterr := fi.GetFloat("GPSLatitude")
	lon, lonerr := fi.GetFloat("GPSLongitude")
	if laterr == nil && lonerr == nil {
		p.GPS = &GPS{Lat: lat, Lon: lon}
		e.GPSLat, e.GPSLon = &lat, &lon
	}

	ds, err := fi.GetString("DateTimeOriginal")
	if err != nil {
		klog.V(1).Infof("unable to get date time for %s: %v", path, err)
	} else {
		t, err := time.Parse(exifDate, ds)
		if err != nil {
			return p, fmt.Errorf("parse time %q: %w", ds, err)
		}
		e.DateTime = ds
		p.Taken = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}

	bs, err := json.Marshal(e)
	if err != nil {
		return p, fmt.Errorf("marshal exif: %w", err)
	}
	p.ExifJSON = string(bs)

	return p, nil
}

// candidates returns the absolute paths of decodable photos beneath root,
// skipping dot-files and dot-directories.
func candidates(root string) ([]string, error) {
	found := []string{}
	top := filepath.Clean(root)

	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if filepath.Clean(path) != top && strings.HasPrefix(filepath.Base(path), ".") {
				if de.IsDir() {
					return godirwalk.SkipThis
				}
				return nil
			}

			if de.IsDir() || !photoExts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			klog.V(1).Infof("found %s", abs)
			found = append(found, abs)
			return nil
		},
	})

	return found, err
}

// Find walks root and extracts EXIF metadata for every photo beneath it.
// Files that cannot be read are logged and skipped.
func Find(root string) ([]*Photo, error) {
	paths, err := candidates(root)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	// numeric GPS output, so coordinates parse as floats
	et, err := exiftool.NewExiftool(exiftool.CoordFormant("%+.6f"))
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	defer et.Close()

	found := []*Photo{}
	for _, path := range paths {
		p, err := read(path, et)
		if err != nil {
			klog.Errorf("read failure: %v", err)
			continue
		}
		found = append(found, p)
	}
	return found, nil
}
