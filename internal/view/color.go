package view

import (
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Pastel bands for group colours.
const (
	satMin, satSpan     = 0.45, 0.25
	lightMin, lightSpan = 0.72, 0.12
)

// GroupColor derives a stable pastel colour from a group key.
func GroupColor(key string) color.RGBA {
	h := xxhash.Sum64String(key)
	hue := float64(h%360) / 360
	sat := satMin + satSpan*float64((h>>16)%1000)/1000
	light := lightMin + lightSpan*float64((h>>32)%1000)/1000
	return hsl(hue, sat, light)
}

// groupKey names a group for colouring. Ungrouped cells get their position
// so neighbours stay distinguishable.
func groupKey(groupID string, start int) string {
	if groupID != "" {
		return groupID
	}
	return "cell:" + strconv.Itoa(start)
}

func hsl(h, s, l float64) color.RGBA {
	var r, g, b float64
	if s == 0 {
		r, g, b = l, l, l
	} else {
		q := l * (1 + s)
		if l >= 0.5 {
			q = l + s - l*s
		}
		p := 2*l - q
		r = hueToRGB(p, q, h+1.0/3)
		g = hueToRGB(p, q, h)
		b = hueToRGB(p, q, h-1.0/3)
	}
	return color.RGBA{R: to8(r), G: to8(g), B: to8(b), A: 0xff}
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}

func to8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// ParseHex parses "#rrggbb". Anything else yields opaque grey.
func ParseHex(s string) color.RGBA {
	grey := color.RGBA{R: 0x9c, G: 0xa3, B: 0xaf, A: 0xff}
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return grey
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return grey
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// Darken scales the colour channels by f.
func Darken(c color.RGBA, f float64) color.RGBA {
	return color.RGBA{
		R: to8(float64(c.R) / 255 * f),
		G: to8(float64(c.G) / 255 * f),
		B: to8(float64(c.B) / 255 * f),
		A: c.A,
	}
}

// WithAlpha returns c with alpha a in [0, 1]. The channels stay
// non-premultiplied.
func WithAlpha(c color.RGBA, a float64) color.RGBA {
	c.A = to8(a)
	return c
}
