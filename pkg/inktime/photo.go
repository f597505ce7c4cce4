package inktime

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

// DayFormat is the layout used for calendar day keys.
var DayFormat = "2006-01-02"

// GPS is a latitude/longitude pair.
type GPS struct {
	Lat float64
	Lon float64
}

// Photo is a scored catalog entry.
type Photo struct {
	Path string

	// Taken is the capture day; zero means unknown.
	Taken time.Time

	Memory *float64
	Beauty *float64

	Caption     string
	SideCaption string
	Type        string
	Reason      string

	GPS  *GPS
	City string

	Width       int64
	Height      int64
	Orientation string

	UsedAt   *time.Time
	ExifJSON string
}

// Location returns the best human-readable place for a photo.
func (p *Photo) Location() string {
	if p.City != "" {
		return p.City
	}
	if p.GPS == nil {
		return ""
	}
	return formatGPS(*p.GPS)
}

func formatGPS(g GPS) string {
	return fmt.Sprintf("%.5f, %.5f", g.Lat, g.Lon)
}

// Day returns the calendar day key for t.
func Day(t time.Time) string {
	return t.Format(DayFormat)
}

// ParseDay parses a YYYY-MM-DD calendar day.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayFormat, s)
}

// Index maps calendar days to the photos taken on them.
// It is read-only once built.
type Index struct {
	days  map[string][]*Photo
	count int
}

// NewIndex indexes photos by capture day, preserving input order within a day.
func NewIndex(ps []*Photo) *Index {
	idx := &Index{days: map[string][]*Photo{}}
	skipped := 0
	for _, p := range ps {
		if p.Taken.IsZero() {
			skipped++
			continue
		}
		d := Day(p.Taken)
		idx.days[d] = append(idx.days[d], p)
		idx.count++
	}
	klog.V(1).Infof("indexed %d photos across %d days (%d undated)", idx.count, len(idx.days), skipped)
	return idx
}

// RecordsForDate returns the photos taken on the same calendar day as t.
func (idx *Index) RecordsForDate(t time.Time) []*Photo {
	if idx == nil {
		return nil
	}
	return idx.days[Day(t)]
}

// Len returns the number of dated photos in the index.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.count
}

// Find returns the indexed photo with the given path.
func (idx *Index) Find(path string) *Photo {
	if idx == nil {
		return nil
	}
	for _, ps := range idx.days {
		for _, p := range ps {
			if p.Path == path {
				return p
			}
		}
	}
	return nil
}
