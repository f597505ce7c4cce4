package inktime

import (
	"image"

	"golang.org/x/image/draw"
)

// Floyd-Steinberg weights, in sixteenths.
const (
	weightRight      = 7.0 / 16
	weightBelowLeft  = 3.0 / 16
	weightBelow      = 5.0 / 16
	weightBelowRight = 1.0 / 16
)

// rowErr carries quantization error for one row, per channel.
type rowErr struct {
	r, g, b []float32
}

func newRowErr(w int) rowErr {
	return rowErr{r: make([]float32, w), g: make([]float32, w), b: make([]float32, w)}
}

func (e rowErr) add(x int, w, r, g, b float32) {
	e.r[x] += r * w
	e.g[x] += g * w
	e.b[x] += b * w
}

func (e rowErr) reset() {
	clear(e.r)
	clear(e.g)
	clear(e.b)
}

// Dither reduces img to the colors of p in place using Floyd-Steinberg error
// diffusion, scanning rows top to bottom and pixels left to right. Alpha is
// left untouched. The same input always yields the same output.
func Dither(img *image.NRGBA, p Palette) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 || len(p) == 0 {
		return img
	}

	cur := newRowErr(w)
	next := newRowErr(w)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3 : x*4+3]

			r := clamp(float32(px[0]) + cur.r[x])
			g := clamp(float32(px[1]) + cur.g[x])
			bl := clamp(float32(px[2]) + cur.b[x])

			c := p[p.Nearest(r, g, bl)]
			px[0], px[1], px[2] = c.R, c.G, c.B

			er := r - float32(c.R)
			eg := g - float32(c.G)
			eb := bl - float32(c.B)

			if x+1 < w {
				cur.add(x+1, weightRight, er, eg, eb)
			}
			if y+1 < h {
				if x > 0 {
					next.add(x-1, weightBelowLeft, er, eg, eb)
				}
				next.add(x, weightBelow, er, eg, eb)
				if x+1 < w {
					next.add(x+1, weightBelowRight, er, eg, eb)
				}
			}
		}
		cur, next = next, cur
		next.reset()
	}

	return img
}

// DitherImage copies src into a new NRGBA bitmap and dithers it to p.
func DitherImage(src image.Image, p Palette) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return Dither(dst, p)
}

func clamp(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
