package inktime

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"
)

// Frame is a quantized panel image and the pick it came from.
type Frame struct {
	Image *image.NRGBA
	Pick  Pick
	// Placeholder is set when no photo was found in the lookback window.
	Placeholder bool
}

// Render composes p and dithers the result to pal.
// Composition failures are returned, never retried.
func Render(comp Composer, p *Photo, pal Palette) (*image.NRGBA, error) {
	img, err := comp.Compose(p)
	if err != nil {
		if !errors.Is(err, ErrRender) {
			err = fmt.Errorf("%w: %w", ErrRender, err)
		}
		return nil, err
	}
	return Dither(img, pal), nil
}

// BinName returns the file name of the i'th daily frame.
func BinName(i int) string {
	return fmt.Sprintf("photo_%d.bin", i)
}

const (
	LatestName  = "latest.bin"
	PreviewName = "preview.png"
)

// Publisher renders the daily frames a panel downloads.
type Publisher struct {
	c        *Config
	catalog  *Catalog
	selector *Selector
	layout   *Layout
}

// NewPublisher validates c and returns a Publisher reading from cat.
func NewPublisher(c *Config, cat *Catalog, r Rand) (*Publisher, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s, err := NewSelector(c.Threshold, c.MaxLookback, r)
	if err != nil {
		return nil, err
	}
	return &Publisher{c: c, catalog: cat, selector: s, layout: NewLayout(c.Width, c.Height)}, nil
}

// Frames selects and renders the daily frames for day.
func (pb *Publisher) Frames(idx *Index, day time.Time) ([]Frame, error) {
	picks := pb.selector.PickN(idx, day, pb.c.DailyQuantity)
	if len(picks) == 0 {
		klog.Warningf("no photos within %d days of %s, rendering placeholder", pb.c.MaxLookback, Day(day))
		img := Dither(pb.layout.Placeholder(day, pb.c.MaxLookback), pb.c.Palette)
		return []Frame{{Image: img, Placeholder: true}}, nil
	}

	fs := []Frame{}
	for _, pk := range picks {
		klog.Infof("rendering %s (from %s, fallback=%v)", pk.Photo.Path, Day(pk.DateUsed), pk.Fallback)
		img, err := Render(pb.layout, pk.Photo, pb.c.Palette)
		if err != nil {
			return nil, err
		}
		fs = append(fs, Frame{Image: img, Pick: pk})
	}
	return fs, nil
}

// Publish renders the frames for day into the output directory and records
// which photos were used. Slots beyond the available frames repeat them.
func (pb *Publisher) Publish(day time.Time) ([]Frame, error) {
	idx, err := pb.catalog.Index()
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}

	fs, err := pb.Frames(idx, day)
	if err != nil {
		return nil, fmt.Errorf("frames: %w", err)
	}

	if err := os.MkdirAll(pb.c.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	for i := 0; i < pb.c.DailyQuantity; i++ {
		f := fs[i%len(fs)]
		p := filepath.Join(pb.c.OutDir, BinName(i))
		klog.V(1).Infof("writing %s", p)
		if err := os.WriteFile(p, EncodeBin(f.Image, pb.c.Palette), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", p, err)
		}
	}

	if err := copy.Copy(filepath.Join(pb.c.OutDir, BinName(0)), filepath.Join(pb.c.OutDir, LatestName)); err != nil {
		return nil, fmt.Errorf("copy latest: %w", err)
	}

	var preview bytes.Buffer
	if err := EncodePNG(&preview, fs[0].Image); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	if err := os.WriteFile(filepath.Join(pb.c.OutDir, PreviewName), preview.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write preview: %w", err)
	}

	now := time.Now()
	for _, f := range fs {
		if f.Placeholder {
			continue
		}
		if err := pb.catalog.MarkUsed(f.Pick.Photo.Path, now); err != nil {
			klog.Warningf("unable to mark used: %v", err)
		}
	}

	klog.Infof("published %d frames for %s to %s", pb.c.DailyQuantity, Day(day), pb.c.OutDir)
	return fs, nil
}
