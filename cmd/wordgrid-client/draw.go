package main

import (
	"fmt"
	"image/color"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/bodul/wordgrid/internal/view"
)

const (
	glyphH        = 16
	maxTextImages = 4096
	thumbW        = 200
)

var (
	backdrop = color.RGBA{R: 0x2b, G: 0x2f, B: 0x36, A: 0xff}
	hudFill  = color.RGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff}
)

// painter draws view ops onto an ebiten image.
type painter struct {
	white *ebiten.Image
	text  map[string]*ebiten.Image
}

func newPainter() *painter {
	white := ebiten.NewImage(1, 1)
	white.Fill(color.White)
	return &painter{white: white, text: make(map[string]*ebiten.Image)}
}

// premul converts a straight-alpha colour to the premultiplied form ebiten
// expects.
func premul(c color.RGBA) color.RGBA {
	a := float64(c.A) / 255
	return color.RGBA{
		R: uint8(math.Round(float64(c.R) * a)),
		G: uint8(math.Round(float64(c.G) * a)),
		B: uint8(math.Round(float64(c.B) * a)),
		A: c.A,
	}
}

func (p *painter) draw(dst *ebiten.Image, ops view.DrawList) {
	for _, op := range ops {
		r := op.Rect
		switch op.Kind {
		case view.OpRect:
			p.fillRect(dst, r, op.Fill)
		case view.OpRoundRect:
			if op.Stroke <= 0 {
				p.fillRoundRect(dst, r, op.Radius, op.Fill)
				continue
			}
			// The border is the outer shape showing around an inset fill, so
			// it follows the rounded corners.
			inner, innerRadius := insetRound(r, op.Radius, op.Stroke)
			p.fillRoundRect(dst, r, op.Radius, op.Border)
			p.fillRoundRect(dst, inner, innerRadius, op.Fill)
		case view.OpOutline:
			vector.StrokeRect(dst, float32(r.X), float32(r.Y), float32(r.Width), float32(r.Height),
				float32(op.Stroke), premul(op.Border), true)
		case view.OpText:
			p.drawText(dst, op.Text, r.X, r.Y, op.Fill)
		}
	}
}

func (p *painter) fillRect(dst *ebiten.Image, r view.Rect, c color.RGBA) {
	if r.Width <= 0 || r.Height <= 0 {
		return
	}
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(r.Width, r.Height)
	op.GeoM.Translate(r.X, r.Y)
	op.ColorScale.ScaleWithColor(premul(c))
	dst.DrawImage(p.white, op)
}

// insetRound shrinks a rounded rect by d on every side, keeping the corners
// concentric.
func insetRound(r view.Rect, radius, d float64) (view.Rect, float64) {
	d = math.Min(d, math.Min(r.Width, r.Height)/2)
	inner := view.Rect{X: r.X + d, Y: r.Y + d, Width: r.Width - 2*d, Height: r.Height - 2*d}
	return inner, math.Max(0, radius-d)
}

// fillRoundRect draws three rects and four corner circles. The fill must be
// opaque or the overlaps show.
func (p *painter) fillRoundRect(dst *ebiten.Image, r view.Rect, radius float64, c color.RGBA) {
	radius = math.Min(radius, math.Min(r.Width, r.Height)/2)
	if radius < 1 {
		p.fillRect(dst, r, c)
		return
	}
	p.fillRect(dst, view.Rect{X: r.X + radius, Y: r.Y, Width: r.Width - 2*radius, Height: r.Height}, c)
	p.fillRect(dst, view.Rect{X: r.X, Y: r.Y + radius, Width: radius, Height: r.Height - 2*radius}, c)
	p.fillRect(dst, view.Rect{X: r.X + r.Width - radius, Y: r.Y + radius, Width: radius, Height: r.Height - 2*radius}, c)

	pc := premul(c)
	rad := float32(radius)
	for _, pt := range [4][2]float64{
		{r.X + radius, r.Y + radius},
		{r.X + r.Width - radius, r.Y + radius},
		{r.X + radius, r.Y + r.Height - radius},
		{r.X + r.Width - radius, r.Y + r.Height - radius},
	} {
		vector.DrawFilledCircle(dst, float32(pt[0]), float32(pt[1]), rad, pc, true)
	}
}

// drawText renders s with the debug font, tinted with c.
func (p *painter) drawText(dst *ebiten.Image, s string, x, y float64, c color.RGBA) {
	img, ok := p.text[s]
	if !ok {
		if len(p.text) >= maxTextImages {
			for k, v := range p.text {
				v.Deallocate()
				delete(p.text, k)
			}
		}
		w := max(1, int(view.DebugFont.Width(s)))
		img = ebiten.NewImage(w, glyphH)
		ebitenutil.DebugPrint(img, s)
		p.text[s] = img
	}
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(math.Round(x), math.Round(y))
	op.ColorScale.ScaleWithColor(premul(c))
	dst.DrawImage(img, op)
}

func (g *Game) drawImage(screen *ebiten.Image) {
	if g.image == nil {
		return
	}
	b := g.image.Bounds()
	scale := float64(thumbW) / float64(b.Dx())
	x := float64(g.w) - thumbW - 12
	y := float64(hudH) + 12

	g.painter.fillRect(screen, view.Rect{X: x - 3, Y: y - 3, Width: thumbW + 6, Height: float64(b.Dy())*scale + 6}, hudFill)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate(x, y)
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(g.image, op)
}

func (g *Game) drawHUD(screen *ebiten.Image) {
	g.painter.fillRect(screen, view.Rect{Width: float64(g.w), Height: hudH}, hudFill)

	b := g.board
	cursor := b.Cursor()
	line := fmt.Sprintf("words %d/%d  online %d  cursor r%d c%d  zoom %.2f (%s)",
		b.WordCount(), b.Capacity(), b.Online(),
		cursor/b.Width(), cursor%b.Width(),
		g.camera.Zoom, view.LODFor(g.camera.CellPixels()))
	if b.Generating() {
		line += "  generating image..."
	}
	ebitenutil.DebugPrintAt(screen, line, 8, 4)

	second := "> " + b.Buffer() + "_   Space place  Enter end group  Ctrl+V paste  Ctrl+G generate  Home cursor  Esc fit"
	if g.status != "" && g.tick < g.statusUntil {
		second = g.status
	}
	ebitenutil.DebugPrintAt(screen, second, 8, 20)
}
