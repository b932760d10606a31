package view

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const ellipsis = "…"

// Measurer reports the rendered width of a string in pixels.
type Measurer interface {
	Width(s string) float64
}

// MonoMeasurer measures text drawn in a fixed-width face, counting East
// Asian wide runes as two columns.
type MonoMeasurer struct {
	GlyphW float64
}

// DebugFont matches ebitenutil's debug face.
var DebugFont = MonoMeasurer{GlyphW: 6}

func (m MonoMeasurer) Width(s string) float64 {
	return float64(runewidth.StringWidth(s)) * m.GlyphW
}

// Ellipsize returns s unchanged if it fits in maxW, otherwise the longest
// prefix that fits with "…" appended. The result is empty when not even the
// ellipsis fits.
func Ellipsize(m Measurer, s string, maxW float64) string {
	if m.Width(s) <= maxW {
		return s
	}
	if m.Width(ellipsis) > maxW {
		return ""
	}
	if mono, ok := m.(MonoMeasurer); ok && mono.GlyphW > 0 {
		return runewidth.Truncate(s, int(maxW/mono.GlyphW), ellipsis)
	}

	runes := []rune(s)
	var b strings.Builder
	for n := len(runes); n > 0; n-- {
		b.Reset()
		b.WriteString(string(runes[:n]))
		b.WriteString(ellipsis)
		if m.Width(b.String()) <= maxW {
			return b.String()
		}
	}
	return ellipsis
}
