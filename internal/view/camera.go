// Package view turns board state into draw operations: a zoomable camera over
// the word grid, pointer gesture handling and a level-of-detail renderer. It
// has no graphics dependency; the desktop client draws the resulting
// DrawList.
package view

import (
	"math"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

const (
	// CellW and CellH are the world-space size of one grid cell.
	CellW = 120.0
	CellH = 48.0

	// MaxZoom bounds how far in the camera can go.
	MaxZoom = 20.0

	// fitSlack lets the user zoom out slightly past the fit-to-grid level.
	fitSlack = 0.9
	zoomStep = 0.1
)

// Rect is an axis-aligned rectangle.
type Rect struct {
	X, Y, Width, Height float64
}

// Contains reports whether (x, y) lies inside r.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Intersects reports whether r and o overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width && r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// cameraAnim holds the tweens of an AnimateTo call.
type cameraAnim struct {
	x, y, zoom          *gween.Tween
	doneX, doneY, doneZ bool
}

// Camera is the client's view into the grid. X and Y are the world point at
// the centre of the viewport; Zoom is screen pixels per world unit.
type Camera struct {
	X, Y     float64
	Zoom     float64
	Viewport Rect

	cols, rows int
	minZoom    float64

	anim *cameraAnim
}

// NewCamera creates a camera over a cols×rows grid, zoomed to fit the whole
// grid in the viewport.
func NewCamera(viewport Rect, cols, rows int) *Camera {
	c := &Camera{cols: cols, rows: rows}
	c.SetViewport(viewport)
	c.Fit()
	return c
}

// SetViewport updates the screen rectangle and the zoom limits derived from it.
func (c *Camera) SetViewport(viewport Rect) {
	c.Viewport = viewport
	c.minZoom = c.FitZoom() * fitSlack
	c.Zoom = c.clampZoom(c.Zoom)
}

// FitZoom is the zoom at which the whole grid fits the viewport.
func (c *Camera) FitZoom() float64 {
	ww := float64(c.cols) * CellW
	wh := float64(c.rows) * CellH
	if ww == 0 || wh == 0 || c.Viewport.Width == 0 || c.Viewport.Height == 0 {
		return 1
	}
	return math.Min(c.Viewport.Width/ww, c.Viewport.Height/wh)
}

// MinZoom returns the lower zoom bound.
func (c *Camera) MinZoom() float64 { return c.minZoom }

// Fit centres the grid and zooms to show all of it.
func (c *Camera) Fit() {
	c.CancelAnimation()
	c.X = float64(c.cols) * CellW / 2
	c.Y = float64(c.rows) * CellH / 2
	c.Zoom = c.clampZoom(c.FitZoom())
}

func (c *Camera) clampZoom(z float64) float64 {
	if z < c.minZoom {
		return c.minZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

// Pan moves the view by a screen-space delta, as when dragging the grid.
func (c *Camera) Pan(dx, dy float64) {
	c.CancelAnimation()
	c.X -= dx / c.Zoom
	c.Y -= dy / c.Zoom
}

// ZoomAt zooms by exp(0.1·notches) keeping the world point under (sx, sy)
// fixed on screen.
func (c *Camera) ZoomAt(sx, sy, notches float64) {
	c.CancelAnimation()
	wx, wy := c.ScreenToWorld(sx, sy)
	c.Zoom = c.clampZoom(c.Zoom * math.Exp(zoomStep*notches))
	ax, ay := c.ScreenToWorld(sx, sy)
	c.X += wx - ax
	c.Y += wy - ay
}

// AnimateTo eases the camera onto the centre of a grid position over
// duration seconds. A zoom of zero keeps the current zoom.
func (c *Camera) AnimateTo(position int, zoom float64, duration float32) {
	wx, wy := CellCenter(position, c.cols)
	if zoom <= 0 {
		zoom = c.Zoom
	}
	zoom = c.clampZoom(zoom)
	if duration <= 0 {
		c.CancelAnimation()
		c.X, c.Y, c.Zoom = wx, wy, zoom
		return
	}
	c.anim = &cameraAnim{
		x:    gween.New(float32(c.X), float32(wx), duration, ease.OutCubic),
		y:    gween.New(float32(c.Y), float32(wy), duration, ease.OutCubic),
		zoom: gween.New(float32(c.Zoom), float32(zoom), duration, ease.OutCubic),
	}
}

// Animating reports whether an AnimateTo is still running.
func (c *Camera) Animating() bool { return c.anim != nil }

// CancelAnimation stops a running animation where it is.
func (c *Camera) CancelAnimation() { c.anim = nil }

// Update advances a running animation by dt seconds.
func (c *Camera) Update(dt float32) {
	a := c.anim
	if a == nil {
		return
	}
	if !a.doneX {
		v, done := a.x.Update(dt)
		c.X, a.doneX = float64(v), done
	}
	if !a.doneY {
		v, done := a.y.Update(dt)
		c.Y, a.doneY = float64(v), done
	}
	if !a.doneZ {
		v, done := a.zoom.Update(dt)
		c.Zoom, a.doneZ = c.clampZoom(float64(v)), done
	}
	if a.doneX && a.doneY && a.doneZ {
		c.anim = nil
	}
}

// WorldToScreen converts world coordinates to screen coordinates.
func (c *Camera) WorldToScreen(wx, wy float64) (sx, sy float64) {
	cx := c.Viewport.X + c.Viewport.Width/2
	cy := c.Viewport.Y + c.Viewport.Height/2
	return cx + (wx-c.X)*c.Zoom, cy + (wy-c.Y)*c.Zoom
}

// ScreenToWorld converts screen coordinates to world coordinates.
func (c *Camera) ScreenToWorld(sx, sy float64) (wx, wy float64) {
	cx := c.Viewport.X + c.Viewport.Width/2
	cy := c.Viewport.Y + c.Viewport.Height/2
	return c.X + (sx-cx)/c.Zoom, c.Y + (sy-cy)/c.Zoom
}

// VisibleBounds returns the world-space rectangle covered by the viewport.
func (c *Camera) VisibleBounds() Rect {
	x0, y0 := c.ScreenToWorld(c.Viewport.X, c.Viewport.Y)
	x1, y1 := c.ScreenToWorld(c.Viewport.X+c.Viewport.Width, c.Viewport.Y+c.Viewport.Height)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// VisibleCells returns the inclusive row and column range to draw: the
// visible bounds widened by one cell and clamped to the grid. ok is false
// when the grid is entirely off screen.
func (c *Camera) VisibleCells() (minRow, maxRow, minCol, maxCol int, ok bool) {
	b := c.VisibleBounds()
	minCol = int(math.Floor(b.X/CellW)) - 1
	maxCol = int(math.Floor((b.X+b.Width)/CellW)) + 1
	minRow = int(math.Floor(b.Y/CellH)) - 1
	maxRow = int(math.Floor((b.Y+b.Height)/CellH)) + 1

	minCol = max(minCol, 0)
	minRow = max(minRow, 0)
	maxCol = min(maxCol, c.cols-1)
	maxRow = min(maxRow, c.rows-1)
	if minCol > maxCol || minRow > maxRow {
		return 0, 0, 0, 0, false
	}
	return minRow, maxRow, minCol, maxCol, true
}

// CellAt resolves a screen point to a grid position.
func (c *Camera) CellAt(sx, sy float64) (int, bool) {
	wx, wy := c.ScreenToWorld(sx, sy)
	if wx < 0 || wy < 0 {
		return 0, false
	}
	col, row := int(wx/CellW), int(wy/CellH)
	if col >= c.cols || row >= c.rows {
		return 0, false
	}
	return row*c.cols + col, true
}

// CellPixels is the on-screen width of one cell.
func (c *Camera) CellPixels() float64 { return CellW * c.Zoom }

// CellRect returns the screen rectangle of a grid position.
func (c *Camera) CellRect(position int) Rect {
	col, row := position%c.cols, position/c.cols
	x, y := c.WorldToScreen(float64(col)*CellW, float64(row)*CellH)
	return Rect{X: x, Y: y, Width: CellW * c.Zoom, Height: CellH * c.Zoom}
}

// CellCenter returns the world-space centre of a grid position.
func CellCenter(position, cols int) (wx, wy float64) {
	col, row := position%cols, position/cols
	return (float64(col) + 0.5) * CellW, (float64(row) + 0.5) * CellH
}
