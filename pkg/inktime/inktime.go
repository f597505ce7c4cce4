// Package inktime selects a daily memory photo and renders it for a color e-paper panel.
package inktime

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidConfig is returned when configuration is rejected before any work starts.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrRender is returned when a photo could not be composed into a bitmap.
	ErrRender = errors.New("render failed")
)

const (
	// PanelWidth and PanelHeight are the reference panel dimensions.
	PanelWidth  = 480
	PanelHeight = 800

	DefaultThreshold     = 70.0
	DefaultMaxLookback   = 30
	DefaultDailyQuantity = 5
)

// Config holds configuration for inktime.
type Config struct {
	DBPath      string
	ImageDir    string
	OutDir      string
	DownloadKey string

	Threshold     float64
	MaxLookback   int
	DailyQuantity int

	Palette Palette
	Width   int
	Height  int

	EnableWebUI bool
}

// DefaultConfig returns a Config populated with reference values.
func DefaultConfig() *Config {
	return &Config{
		DBPath:        "photos.db",
		OutDir:        "output",
		Threshold:     DefaultThreshold,
		MaxLookback:   DefaultMaxLookback,
		DailyQuantity: DefaultDailyQuantity,
		Palette:       ReferencePalette,
		Width:         PanelWidth,
		Height:        PanelHeight,
		EnableWebUI:   true,
	}
}

// Validate rejects configuration that would make selection or rendering meaningless.
func (c *Config) Validate() error {
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return fmt.Errorf("%w: threshold %v is not finite", ErrInvalidConfig, c.Threshold)
	}
	if c.MaxLookback < 1 {
		return fmt.Errorf("%w: lookback %d < 1", ErrInvalidConfig, c.MaxLookback)
	}
	if len(c.Palette) == 0 || len(c.Palette) > 256 {
		return fmt.Errorf("%w: palette has %d colors", ErrInvalidConfig, len(c.Palette))
	}
	if c.Width < 1 || c.Height < 1 {
		return fmt.Errorf("%w: panel size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.DailyQuantity < 1 {
		return fmt.Errorf("%w: daily quantity %d < 1", ErrInvalidConfig, c.DailyQuantity)
	}
	return nil
}
