package inktime

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Palette is the ordered set of colors a panel can render.
// Earlier entries win distance ties.
type Palette []color.NRGBA

// ReferencePalette is the black/white/red/yellow panel palette.
var ReferencePalette = Palette{
	{R: 0, G: 0, B: 0, A: 255},
	{R: 255, G: 255, B: 255, A: 255},
	{R: 200, G: 0, B: 0, A: 255},
	{R: 220, G: 180, B: 0, A: 255},
}

// ParsePalette parses a comma-separated list of hex colors, such as "#000000,#ffffff".
func ParsePalette(s string) (Palette, error) {
	var p Palette
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !strings.HasPrefix(f, "#") {
			f = "#" + f
		}
		c, err := colorful.Hex(f)
		if err != nil {
			return nil, fmt.Errorf("%w: palette color %q: %v", ErrInvalidConfig, f, err)
		}
		r, g, b := c.RGB255()
		p = append(p, color.NRGBA{R: r, G: g, B: b, A: 255})
	}
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: empty palette", ErrInvalidConfig)
	}
	return p, nil
}

// String returns the palette as comma-separated hex colors.
func (p Palette) String() string {
	hs := make([]string, len(p))
	for i, c := range p {
		hs[i] = fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return strings.Join(hs, ",")
}

// Nearest returns the index of the palette entry closest to (r, g, b)
// by squared Euclidean distance.
func (p Palette) Nearest(r, g, b float32) int {
	best := 0
	bestDist := float32(-1)
	for i, c := range p {
		d := sqDist(r, g, b, c)
		if bestDist < 0 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// Index returns the palette index for c, falling back to the nearest entry.
func (p Palette) Index(c color.NRGBA) int {
	for i, pc := range p {
		if pc.R == c.R && pc.G == c.G && pc.B == c.B {
			return i
		}
	}
	return p.Nearest(float32(c.R), float32(c.G), float32(c.B))
}

func sqDist(r, g, b float32, c color.NRGBA) float32 {
	dr := r - float32(c.R)
	dg := g - float32(c.G)
	db := b - float32(c.B)
	return dr*dr + dg*dg + db*db
}
