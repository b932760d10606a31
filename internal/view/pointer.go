package view

import "math"

// DragDeadZone is the movement in pixels a press may make and still count
// as a click.
const DragDeadZone = 4.0

// Pointer tells clicks from drags for one mouse button.
type Pointer struct {
	down           bool
	dragging       bool
	startX, startY float64
	lastX, lastY   float64
}

// Press records a button press at (x, y).
func (p *Pointer) Press(x, y float64) {
	p.down = true
	p.dragging = false
	p.startX, p.startY = x, y
	p.lastX, p.lastY = x, y
}

// Move reports the pan delta since the last move. It returns ok=false until
// the pointer has left the dead zone; the first delta after that covers the
// whole distance from the press.
func (p *Pointer) Move(x, y float64) (dx, dy float64, ok bool) {
	if !p.down {
		return 0, 0, false
	}
	if !p.dragging {
		if math.Hypot(x-p.startX, y-p.startY) <= DragDeadZone {
			return 0, 0, false
		}
		p.dragging = true
	}
	dx, dy = x-p.lastX, y-p.lastY
	p.lastX, p.lastY = x, y
	return dx, dy, true
}

// Release ends the gesture and reports whether it was a click.
func (p *Pointer) Release(x, y float64) (click bool) {
	if !p.down {
		return false
	}
	click = !p.dragging && math.Hypot(x-p.startX, y-p.startY) <= DragDeadZone
	p.down = false
	p.dragging = false
	return click
}

// Down reports whether the button is held.
func (p *Pointer) Down() bool { return p.down }

// Dragging reports whether the current gesture has become a pan.
func (p *Pointer) Dragging() bool { return p.dragging }
