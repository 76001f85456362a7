package app

import (
	"image/color"
	"math"
)

const (
	ClassicTheme   ColorTheme = "classic"
	GrayscaleTheme ColorTheme = "grayscale"
	JungleTheme    ColorTheme = "jungle"
	ThermalTheme   ColorTheme = "thermal"
	MarineTheme    ColorTheme = "marine"
)

// ColorTheme colours points by how far along the travel path they are visited.
type ColorTheme string

var validThemes = map[ColorTheme]struct{}{
	ClassicTheme:   {},
	GrayscaleTheme: {},
	JungleTheme:    {},
	ThermalTheme:   {},
	MarineTheme:    {},
}

var (
	backgroundColor  = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	chamberColor     = color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}
	keepOutColor     = color.RGBA{R: 0xf4, G: 0xd0, B: 0xd0, A: 0xff}
	safeRingColor    = color.RGBA{R: 0xc0, G: 0x30, B: 0x30, A: 0xff}
	targetColor      = color.RGBA{R: 0xa0, G: 0xa0, B: 0xa0, A: 0xff}
	originColor      = color.RGBA{A: 0xff}
	unreachableColor = color.RGBA{R: 0xe0, A: 0xff}
	textColor        = color.RGBA{A: 0xff}
)

type HSV struct {
	H float64 // Hue [0-360]
	S float64 // Saturation [0-1]
	V float64 // Value [0-1]
}

// RGB converts HSV color space to RGB
// H: [0-360], S: [0-1], V: [0-1]
func (hsv HSV) RGB() color.RGBA {
	h := hsv.H
	s := hsv.S
	v := hsv.V

	if s <= 0.0 {
		rgb := uint8(v * 255)
		return color.RGBA{R: rgb, G: rgb, B: rgb, A: 0xff}
	}

	// Normalize hue to [0-6]
	h = math.Mod(h, 360) / 60
	i := math.Floor(h)
	f := h - i

	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	var r, g, b float64

	switch int(i) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}

	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 0xff}
}

// GetColorTheme returns the palette for a theme. Palettes never fade into
// the white background so that late points stay visible.
func GetColorTheme(theme ColorTheme) func(float64) color.RGBA {
	var palette func(float64) color.RGBA

	switch theme {
	case GrayscaleTheme: // Black -> Light gray
		palette = func(f float64) color.RGBA {
			v := uint8(f * 180)
			return color.RGBA{R: v, G: v, B: v, A: 0xff}
		}

	case JungleTheme: // Dark Green -> Yellow
		palette = func(f float64) color.RGBA {
			return HSV{H: 120 - (f * 60), S: 1.0, V: 0.3 + (math.Pow(f, 0.6) * 0.6)}.RGB()
		}

	case ThermalTheme: // Black -> Red -> Orange
		palette = func(f float64) color.RGBA {
			if f < 0.5 {
				return color.RGBA{R: uint8(f * 2 * 255), A: 0xff}
			}
			return color.RGBA{R: 255, G: uint8((f - 0.5) * 2 * 180), A: 0xff}
		}

	case MarineTheme: // Deep Blue -> Cyan
		palette = func(f float64) color.RGBA {
			return HSV{H: 240 - (f * 60), S: 1.0 - (f * 0.4), V: 0.4 + (math.Pow(f, 0.6) * 0.5)}.RGB()
		}

	default: // Blue -> Red
		palette = func(f float64) color.RGBA {
			return HSV{H: 240 - (f * 240), S: 0.9 + (f * 0.1), V: 0.85}.RGB()
		}
	}

	return func(f float64) color.RGBA {
		return palette(math.Max(0, math.Min(1, f)))
	}
}
