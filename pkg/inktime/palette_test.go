package inktime

import (
	"errors"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePalette(t *testing.T) {
	p, err := ParsePalette("#000000, #ffffff,c80000,#dcb400")
	if err != nil {
		t.Fatalf("ParsePalette: %v", err)
	}
	if diff := cmp.Diff(ReferencePalette, p); diff != "" {
		t.Errorf("palette mismatch (-want +got):\n%s", diff)
	}
	if got := p.String(); got != "#000000,#ffffff,#c80000,#dcb400" {
		t.Errorf("String() = %q", got)
	}
}

func TestParsePaletteErrors(t *testing.T) {
	for _, s := range []string{"", " , ", "#zzzzzz", "#12"} {
		if _, err := ParsePalette(s); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("ParsePalette(%q) err = %v, want ErrInvalidConfig", s, err)
		}
	}
}

func TestNearest(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b float32
		want    int
	}{
		{"black", 10, 10, 10, 0},
		{"white", 250, 240, 245, 1},
		{"red", 190, 20, 10, 2},
		{"yellow", 230, 170, 20, 3},
		{"mid gray", 128, 128, 128, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ReferencePalette.Nearest(tc.r, tc.g, tc.b); got != tc.want {
				t.Errorf("Nearest(%v,%v,%v) = %d, want %d", tc.r, tc.g, tc.b, got, tc.want)
			}
		})
	}
}

func TestNearestTiesGoToEarliest(t *testing.T) {
	a := color.NRGBA{A: 255}
	b := color.NRGBA{R: 100, A: 255}
	if got := (Palette{a, b}).Nearest(50, 0, 0); got != 0 {
		t.Errorf("Nearest = %d, want 0", got)
	}
	if got := (Palette{b, a}).Nearest(50, 0, 0); got != 0 {
		t.Errorf("reversed Nearest = %d, want 0", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty palette", func(c *Config) { c.Palette = nil }},
		{"no lookback", func(c *Config) { c.MaxLookback = 0 }},
		{"no frames", func(c *Config) { c.DailyQuantity = 0 }},
		{"no width", func(c *Config) { c.Width = 0 }},
		{"huge palette", func(c *Config) { c.Palette = make(Palette, 257) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.modify(c)
			if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
