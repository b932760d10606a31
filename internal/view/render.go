package view

import (
	"image/color"
	"math"

	"github.com/bodul/wordgrid/internal/grid"
)

// Level-of-detail thresholds on the on-screen width of one cell.
const (
	FlatBelow = 8.0
	PillBelow = 48.0
)

// LOD is a rendering tier.
type LOD int

const (
	LODFlat LOD = iota
	LODPill
	LODBlock
)

func (l LOD) String() string {
	switch l {
	case LODFlat:
		return "flat"
	case LODPill:
		return "pill"
	default:
		return "block"
	}
}

// LODFor picks the tier for a cell width in pixels.
func LODFor(cellPx float64) LOD {
	switch {
	case cellPx < FlatBelow:
		return LODFlat
	case cellPx < PillBelow:
		return LODPill
	default:
		return LODBlock
	}
}

// OpKind says how an Op is drawn.
type OpKind int

const (
	// OpRect is a filled rectangle.
	OpRect OpKind = iota
	// OpRoundRect is a filled rectangle with rounded corners and an optional
	// border.
	OpRoundRect
	// OpText is a line of text with its top-left corner at Rect.X, Rect.Y.
	OpText
	// OpOutline is an unfilled rectangle border.
	OpOutline
)

// Op is a single draw operation in screen space.
type Op struct {
	Kind   OpKind
	Rect   Rect
	Fill   color.RGBA
	Border color.RGBA
	Stroke float64
	Radius float64
	Text   string
}

// DrawList is an ordered list of draw operations.
type DrawList []Op

// CellSource is the board state the renderer reads.
type CellSource interface {
	CellAt(position int) (grid.Cell, bool)
	Groups() *grid.GroupIndex
}

// RemoteCursor is another user's typing position.
type RemoteCursor struct {
	ID       string
	Position int
	Color    string
}

// Frame is everything needed to draw one frame.
type Frame struct {
	Camera *Camera
	Source CellSource
	// Cursor is the local typing position, or -1 to hide it.
	Cursor int
	// Buffer is the word being typed at Cursor.
	Buffer  string
	Remotes []RemoteCursor
	// Tick is the shared animation frame counter driving cursor pulses.
	Tick uint64
}

// Renderer builds draw lists.
type Renderer struct {
	Measurer   Measurer
	Background color.RGBA
	CursorTint color.RGBA
	// PulseFrames is the cursor pulse period in ticks.
	PulseFrames int
}

// NewRenderer returns a renderer using the debug font metrics.
func NewRenderer() *Renderer {
	return &Renderer{
		Measurer:    DebugFont,
		Background:  color.RGBA{R: 0xf8, G: 0xf9, B: 0xfb, A: 0xff},
		CursorTint:  color.RGBA{R: 0x25, G: 0x63, B: 0xeb, A: 0xff},
		PulseFrames: 60,
	}
}

const (
	textPad    = 6.0
	lineHeight = 16.0
)

var textColor = color.RGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff}

// Render produces the draw list for f. Only rows and columns within the
// camera's visible range are scanned.
func (r *Renderer) Render(f Frame) DrawList {
	cam := f.Camera
	var out DrawList

	// Grid backdrop.
	x0, y0 := cam.WorldToScreen(0, 0)
	x1, y1 := cam.WorldToScreen(float64(cam.cols)*CellW, float64(cam.rows)*CellH)
	out = append(out, Op{Kind: OpRect, Rect: Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, Fill: r.Background})

	minRow, maxRow, minCol, maxCol, ok := cam.VisibleCells()
	if !ok {
		return out
	}

	cellPx := cam.CellPixels()
	lod := LODFor(cellPx)
	idx := f.Source.Groups()
	width := idx.Width()

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; {
			pos := row*width + col
			g, found := idx.GroupAt(pos)
			if !found {
				col++
				continue
			}
			out = r.appendGroup(out, f, g, lod, cellPx, minCol, maxCol)
			col = g.End%width + 1
		}
	}

	out = r.appendCursors(out, f, lod, minRow, maxRow, minCol, maxCol)
	return out
}

func (r *Renderer) appendGroup(out DrawList, f Frame, g grid.Group, lod LOD, cellPx float64, minCol, maxCol int) DrawList {
	cam := f.Camera
	start := cam.CellRect(g.Start)
	bounds := Rect{X: start.X, Y: start.Y, Width: start.Width * float64(g.Len()), Height: start.Height}
	fill := GroupColor(groupKey(g.GroupID, g.Start))

	switch lod {
	case LODFlat:
		// Opacity rises as cells shrink so distant groups stay visible.
		alpha := 0.6 + 0.4*(1-cellPx/FlatBelow)
		return append(out, Op{Kind: OpRect, Rect: bounds, Fill: WithAlpha(fill, math.Min(alpha, 1))})

	case LODPill:
		inset := bounds.Height * 0.18
		pill := Rect{X: bounds.X + inset, Y: bounds.Y + inset, Width: bounds.Width - 2*inset, Height: bounds.Height - 2*inset}
		return append(out, Op{Kind: OpRoundRect, Rect: pill, Fill: fill, Radius: pill.Height / 2})
	}

	inset := math.Min(4, bounds.Height*0.08)
	block := Rect{X: bounds.X + inset, Y: bounds.Y + inset, Width: bounds.Width - 2*inset, Height: bounds.Height - 2*inset}
	out = append(out, Op{
		Kind:   OpRoundRect,
		Rect:   block,
		Fill:   fill,
		Border: Darken(fill, 0.75),
		Stroke: 1.5,
		Radius: math.Min(10, block.Height/3),
	})

	width := f.Source.Groups().Width()
	for pos := g.Start; pos <= g.End; pos++ {
		col := pos % width
		if col < minCol || col > maxCol {
			continue
		}
		cell, ok := f.Source.CellAt(pos)
		if !ok {
			continue
		}
		if op, ok := r.textOp(cam.CellRect(pos), cell.Word); ok {
			out = append(out, op)
		}
	}
	return out
}

func (r *Renderer) textOp(cell Rect, word string) (Op, bool) {
	text := Ellipsize(r.Measurer, word, cell.Width-2*textPad)
	if text == "" {
		return Op{}, false
	}
	w := r.Measurer.Width(text)
	return Op{
		Kind: OpText,
		Rect: Rect{X: cell.X + (cell.Width-w)/2, Y: cell.Y + (cell.Height-lineHeight)/2, Width: w, Height: lineHeight},
		Fill: textColor,
		Text: text,
	}, true
}

func (r *Renderer) appendCursors(out DrawList, f Frame, lod LOD, minRow, maxRow, minCol, maxCol int) DrawList {
	cam := f.Camera
	width := cam.cols
	visible := func(pos int) bool {
		row, col := pos/width, pos%width
		return row >= minRow && row <= maxRow && col >= minCol && col <= maxCol
	}
	pulse := r.pulse(f.Tick)

	for _, rc := range f.Remotes {
		if rc.Position < 0 || !visible(rc.Position) {
			continue
		}
		out = append(out, Op{
			Kind:   OpOutline,
			Rect:   cam.CellRect(rc.Position),
			Border: WithAlpha(ParseHex(rc.Color), 0.4+0.5*pulse),
			Stroke: 2,
		})
	}

	if f.Cursor < 0 || !visible(f.Cursor) {
		return out
	}
	rect := cam.CellRect(f.Cursor)
	out = append(out, Op{
		Kind:   OpOutline,
		Rect:   rect,
		Border: WithAlpha(r.CursorTint, 0.5+0.5*pulse),
		Stroke: 1 + 2*pulse,
	})
	if lod == LODBlock && f.Buffer != "" {
		if op, ok := r.textOp(rect, f.Buffer); ok {
			out = append(out, op)
		}
	}
	return out
}

// pulse maps the frame counter onto [0, 1].
func (r *Renderer) pulse(tick uint64) float64 {
	period := r.PulseFrames
	if period <= 0 {
		period = 60
	}
	phase := float64(tick%uint64(period)) / float64(period)
	return 0.5 + 0.5*math.Sin(2*math.Pi*phase)
}
