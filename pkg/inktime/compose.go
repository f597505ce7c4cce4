package inktime

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"time"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"k8s.io/klog/v2"
)

// CaptionDateFormat is how the capture day is printed under the photo.
var CaptionDateFormat = "2006.1.2"

// Composer turns a catalog record into a full-color panel-sized bitmap.
type Composer interface {
	Compose(p *Photo) (*image.NRGBA, error)
}

// Layout composes a photo above a white caption band.
type Layout struct {
	Width  int
	Height int
	// Band is the height of the caption band at the bottom of the frame.
	Band   int
	Margin int
	Face   font.Face
}

// NewLayout returns the default layout for a w x h panel.
func NewLayout(w, h int) *Layout {
	return &Layout{
		Width:  w,
		Height: h,
		Band:   h / 5,
		Margin: 12,
		Face:   basicfont.Face7x13,
	}
}

// Compose decodes the photo, orients and crops it to fill the frame, and
// prints its day, place and side caption in the band beneath.
func (l *Layout) Compose(p *Photo) (*image.NRGBA, error) {
	klog.V(1).Infof("composing %s at %dx%d", p.Path, l.Width, l.Height)
	img, err := imgio.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrRender, p.Path, err)
	}

	img = orient(img, p.Orientation)
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return nil, fmt.Errorf("%w: %s has no pixels", ErrRender, p.Path)
	}

	dst := l.canvas()
	photo := image.Rect(0, 0, l.Width, l.Height-l.Band)
	if photo.Dy() > 0 {
		fill(dst, photo, img)
	}

	var lines []string
	if !p.Taken.IsZero() {
		lines = append(lines, p.Taken.Format(CaptionDateFormat))
	}
	if loc := p.Location(); loc != "" {
		lines = append(lines, loc)
	}
	if p.SideCaption != "" {
		lines = append(lines, l.wrap(p.SideCaption)...)
	}
	l.text(dst, l.Height-l.Band, lines)

	return dst, nil
}

// Placeholder returns a frame explaining that no photo was available for day.
func (l *Layout) Placeholder(day time.Time, lookback int) *image.NRGBA {
	dst := l.canvas()
	lines := append([]string{day.Format(CaptionDateFormat)},
		l.wrap(fmt.Sprintf("No photo within %d days of this date.", lookback))...)
	l.text(dst, l.Height/2, lines)
	return dst
}

func (l *Layout) canvas() *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, l.Width, l.Height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return dst
}

// text draws lines starting at top, one face height apart, clipped to the frame.
func (l *Layout) text(dst *image.NRGBA, top int, lines []string) {
	m := l.Face.Metrics()
	lh := m.Height.Ceil() + 4
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(color.Black), Face: l.Face}
	y := top + l.Margin + m.Ascent.Ceil()
	for _, s := range lines {
		if y > l.Height-l.Margin {
			klog.V(1).Infof("caption clipped at %q", s)
			return
		}
		d.Dot = fixed.P(l.Margin, y)
		d.DrawString(s)
		y += lh
	}
}

// wrap breaks s into lines that fit between the margins.
func (l *Layout) wrap(s string) []string {
	limit := fixed.I(l.Width - 2*l.Margin)
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		var cur []rune
		for _, r := range para {
			next := append(cur, r)
			if len(cur) > 0 && font.MeasureString(l.Face, string(next)) > limit {
				lines = append(lines, string(cur))
				next = []rune{r}
			}
			cur = next
		}
		if len(cur) > 0 {
			lines = append(lines, string(cur))
		}
	}
	return lines
}

// fill scales src to cover r and draws its center into dst.
func fill(dst draw.Image, r image.Rectangle, src image.Image) {
	sw, sh := float64(src.Bounds().Dx()), float64(src.Bounds().Dy())
	scale := math.Max(float64(r.Dx())/sw, float64(r.Dy())/sh)
	w := max(r.Dx(), int(math.Ceil(sw*scale)))
	h := max(r.Dy(), int(math.Ceil(sh*scale)))

	rs := transform.Resize(src, w, h, transform.Lanczos)
	off := image.Pt((w-r.Dx())/2, (h-r.Dy())/2).Add(rs.Bounds().Min)
	draw.Draw(dst, r, rs, off, draw.Src)
}

// orient applies an EXIF orientation, given either as its number or as
// exiftool's description, so the photo displays upright.
func orient(img image.Image, o string) image.Image {
	rot := func(a float64) image.Image {
		return transform.Rotate(img, a, &transform.RotationOptions{ResizeBounds: true})
	}
	switch strings.ToLower(strings.TrimSpace(o)) {
	case "", "1", "horizontal (normal)":
		return img
	case "2", "mirror horizontal":
		return transform.FlipH(img)
	case "3", "rotate 180":
		return rot(180)
	case "4", "mirror vertical":
		return transform.FlipV(img)
	case "5", "mirror horizontal and rotate 270 cw":
		img = transform.FlipH(img)
		return rot(270)
	case "6", "rotate 90 cw":
		return rot(90)
	case "7", "mirror horizontal and rotate 90 cw":
		img = transform.FlipH(img)
		return rot(90)
	case "8", "rotate 270 cw":
		return rot(270)
	}
	klog.Warningf("unknown orientation %q, leaving as-is", o)
	return img
}
