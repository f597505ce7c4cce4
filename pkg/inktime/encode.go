package inktime

import (
	"image"
	"io"

	"github.com/anthonynsimon/bild/imgio"
)

// BitsPerPixel returns the smallest of 1, 2, 4 or 8 bits that can hold an index into p.
func BitsPerPixel(p Palette) int {
	for _, b := range []int{1, 2, 4} {
		if len(p) <= 1<<b {
			return b
		}
	}
	return 8
}

// EncodeBin packs img into the panel frame format: one palette index per
// pixel, most significant bits first, each row padded to a whole byte.
func EncodeBin(img *image.NRGBA, p Palette) []byte {
	b := img.Bounds()
	bpp := BitsPerPixel(p)
	stride := (b.Dx()*bpp + 7) / 8
	out := make([]byte, stride*b.Dy())
	perByte := 8 / bpp

	for y := 0; y < b.Dy(); y++ {
		row := out[y*stride : (y+1)*stride]
		for x := 0; x < b.Dx(); x++ {
			i := p.Index(img.NRGBAAt(b.Min.X+x, b.Min.Y+y))
			shift := 8 - bpp*(x%perByte+1)
			row[x/perByte] |= byte(i) << shift
		}
	}
	return out
}

// EncodePNG writes img as a PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imgio.PNGEncoder()(w, img)
}
