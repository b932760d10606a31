// Package grid holds the authoritative word grid: the data model, the store
// contract with its memory and SQLite implementations, the position allocator
// and the grouping engine shared by the server and the client.
package grid

import (
	"errors"
	"time"
)

const (
	// Width is the number of cells per row.
	Width = 100
	// Height is the number of rows.
	Height = 100
	// Capacity is the total number of addressable cells.
	Capacity = Width * Height
)

var (
	// ErrGridFull is returned when no position is left to claim.
	ErrGridFull = errors.New("grid is full")
	// ErrPositionTaken is returned when a cell write targets an occupied position.
	ErrPositionTaken = errors.New("position already taken")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// Layout describes the shape of a grid. Tests use small layouts; the service
// always runs with DefaultLayout.
type Layout struct {
	Width    int
	Capacity int
}

// DefaultLayout is the 100x100 production grid.
var DefaultLayout = Layout{Width: Width, Capacity: Capacity}

// Rows returns the number of rows needed to hold Capacity cells.
func (l Layout) Rows() int {
	if l.Width <= 0 {
		return 0
	}
	return (l.Capacity + l.Width - 1) / l.Width
}

// Cell is one committed word. Position is unique and never reassigned.
type Cell struct {
	Position  int       `json:"position"`
	Word      string    `json:"word"`
	UserID    string    `json:"userId"`
	UserColor string    `json:"userColor"`
	GroupID   string    `json:"groupId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Row returns the row of the cell for a grid of the given width.
func (c Cell) Row(width int) int { return c.Position / width }

// Col returns the column of the cell for a grid of the given width.
func (c Cell) Col(width int) int { return c.Position % width }

// User is a contributor identified by an opaque client-generated id.
type User struct {
	ID               string    `json:"id"`
	Color            string    `json:"color"`
	WordsContributed int       `json:"wordsContributed"`
	CreatedAt        time.Time `json:"createdAt"`
}

// GenerationStatus is the lifecycle state of a GenerationRecord.
type GenerationStatus string

const (
	StatusGenerating GenerationStatus = "generating"
	StatusComplete   GenerationStatus = "complete"
	StatusFailed     GenerationStatus = "failed"
)

// GenerationRecord tracks one image generation request.
type GenerationRecord struct {
	ID             int64            `json:"id"`
	ImagePath      string           `json:"imagePath,omitempty"`
	PromptSnapshot string           `json:"promptSnapshot"`
	WordCount      int              `json:"wordCount"`
	Status         GenerationStatus `json:"status"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// AuthorityState is the process-wide allocation state.
type AuthorityState struct {
	NextPosition int    `json:"nextPosition"`
	CurrentImage string `json:"currentImage"`
}
