// Package client holds the desktop client's local copy of the grid and
// reconciles optimistic placements with the authority's broadcasts.
package client

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/bodul/wordgrid/internal/grid"
	"github.com/bodul/wordgrid/internal/protocol"
	"github.com/bodul/wordgrid/internal/view"
)

const (
	// MaxWordRunes matches the server's per-word limit.
	MaxWordRunes = 50
	// MaxPasteWords matches the server's batch limit.
	MaxPasteWords = 100
)

// Board is the client's view of the grid. It is not safe for concurrent use;
// the game loop owns it.
type Board struct {
	userID string
	color  string

	width    int
	capacity int

	cells   map[int]grid.Cell // authoritative
	pending map[int]grid.Cell // optimistic, not yet echoed
	groups  *grid.GroupIndex  // memo; nil when stale

	next    int // authoritative next position
	cursor  int
	buffer  []rune
	groupID string

	remotes      map[string]view.RemoteCursor
	online       int
	wordCount    int
	currentImage string
	generating   bool
	lastError    string

	newGroupID func() string
}

// NewBoard creates an empty board for userID sized to the default layout
// until the initial state arrives.
func NewBoard(userID string) *Board {
	b := &Board{
		userID:     userID,
		width:      grid.Width,
		capacity:   grid.Capacity,
		cells:      make(map[int]grid.Cell),
		pending:    make(map[int]grid.Cell),
		remotes:    make(map[string]view.RemoteCursor),
		newGroupID: uuid.NewString,
	}
	b.groupID = b.newGroupID()
	return b
}

func (b *Board) UserID() string       { return b.userID }
func (b *Board) Color() string        { return b.color }
func (b *Board) Width() int           { return b.width }
func (b *Board) Rows() int            { return (b.capacity + b.width - 1) / b.width }
func (b *Board) Capacity() int        { return b.capacity }
func (b *Board) Cursor() int          { return b.cursor }
func (b *Board) Buffer() string       { return string(b.buffer) }
func (b *Board) Online() int          { return b.online }
func (b *Board) WordCount() int       { return b.wordCount }
func (b *Board) CurrentImage() string { return b.currentImage }
func (b *Board) Generating() bool     { return b.generating }
func (b *Board) PendingCount() int    { return len(b.pending) }

// TakeError returns the last error reported by the authority and clears it.
func (b *Board) TakeError() string {
	e := b.lastError
	b.lastError = ""
	return e
}

// CellAt returns the committed cell at position, or the optimistic one if
// nothing has been confirmed there yet.
func (b *Board) CellAt(position int) (grid.Cell, bool) {
	if c, ok := b.cells[position]; ok {
		return c, true
	}
	c, ok := b.pending[position]
	return c, ok
}

// Groups returns the group index over committed and optimistic cells.
func (b *Board) Groups() *grid.GroupIndex {
	if b.groups == nil {
		all := make([]grid.Cell, 0, len(b.cells)+len(b.pending))
		for _, c := range b.cells {
			all = append(all, c)
		}
		for pos, c := range b.pending {
			if _, taken := b.cells[pos]; !taken {
				all = append(all, c)
			}
		}
		b.groups = grid.NewGroupIndex(all, b.width)
	}
	return b.groups
}

// Remotes returns other users' cursors ordered by id.
func (b *Board) Remotes() []view.RemoteCursor {
	out := make([]view.RemoteCursor, 0, len(b.remotes))
	for _, rc := range b.remotes {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterMessage is the first message the client sends.
func (b *Board) RegisterMessage() protocol.Register {
	return protocol.Register{Type: protocol.TypeRegister, UserID: b.userID}
}

// CursorMessage reports the typing cursor to the authority.
func (b *Board) CursorMessage() protocol.CursorMove {
	return protocol.CursorMove{Type: protocol.TypeCursorMove, X: b.cursor % b.width, Y: b.cursor / b.width}
}

// Type appends r to the word being typed. Whitespace is ignored; committing
// is the caller's decision.
func (b *Board) Type(r rune) {
	if unicode.IsSpace(r) || unicode.IsControl(r) || len(b.buffer) >= MaxWordRunes {
		return
	}
	b.buffer = append(b.buffer, r)
}

// Backspace removes the last typed rune.
func (b *Board) Backspace() {
	if n := len(b.buffer); n > 0 {
		b.buffer = b.buffer[:n-1]
	}
}

// Commit places the typed word optimistically at the cursor and returns the
// submission to send, or nil when there is nothing to send. endGroup starts
// a new group after this word.
func (b *Board) Commit(endGroup bool) *protocol.SubmitWord {
	word := norm.NFC.String(strings.TrimSpace(string(b.buffer)))
	defer func() {
		if endGroup {
			b.groupID = b.newGroupID()
		}
	}()
	if word == "" {
		return nil
	}
	if b.cursor >= b.capacity {
		b.lastError = "The grid is full"
		return nil
	}

	msg := &protocol.SubmitWord{
		Type:    protocol.TypeSubmitWord,
		UserID:  b.userID,
		Word:    word,
		GroupID: b.groupID,
	}
	b.placeOptimistic(word, b.groupID)
	b.buffer = b.buffer[:0]
	return msg
}

// Paste handles pasted text. Several words are submitted as one batch in a
// fresh group, with the word being typed in front. A single word is added
// to the buffer and nil is returned.
func (b *Board) Paste(text string) *protocol.SubmitWords {
	words := strings.Fields(text)
	switch len(words) {
	case 0:
		return nil
	case 1:
		for _, r := range words[0] {
			b.Type(r)
		}
		return nil
	}

	if len(b.buffer) > 0 {
		words = append([]string{string(b.buffer)}, words...)
	}
	for i, w := range words {
		w = norm.NFC.String(w)
		if utf8.RuneCountInString(w) > MaxWordRunes {
			w = string([]rune(w)[:MaxWordRunes])
		}
		words[i] = w
	}
	if len(words) > MaxPasteWords {
		b.lastError = fmt.Sprintf("Only the first %d pasted words were sent", MaxPasteWords)
		words = words[:MaxPasteWords]
	}
	if b.cursor >= b.capacity {
		b.lastError = "The grid is full"
		return nil
	}

	groupID := b.newGroupID()
	for _, w := range words {
		if b.cursor >= b.capacity {
			break
		}
		b.placeOptimistic(w, groupID)
	}
	b.buffer = b.buffer[:0]
	b.groupID = b.newGroupID()

	return &protocol.SubmitWords{
		Type:    protocol.TypeSubmitWords,
		UserID:  b.userID,
		Words:   words,
		GroupID: groupID,
	}
}

func (b *Board) placeOptimistic(word, groupID string) {
	b.pending[b.cursor] = grid.Cell{
		Position:  b.cursor,
		Word:      word,
		UserID:    b.userID,
		UserColor: b.color,
		GroupID:   groupID,
	}
	b.cursor++
	b.groups = nil
}

// Apply folds one authority event into the board.
func (b *Board) Apply(env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeInitialState:
		var m protocol.InitialState
		if err := env.Into(&m); err != nil {
			return err
		}
		b.reset(m)
	case protocol.TypeWordPlaced:
		var m protocol.WordPlaced
		if err := env.Into(&m); err != nil {
			return err
		}
		b.placed(m.Cell())
	case protocol.TypeUsersUpdate:
		var m protocol.UsersUpdate
		if err := env.Into(&m); err != nil {
			return err
		}
		b.online = m.Count
	case protocol.TypeUserRegistered:
		var m protocol.UserRegistered
		if err := env.Into(&m); err != nil {
			return err
		}
		// Adopt the stored id so our own echoes are recognised.
		if m.UserID != "" && m.UserID != b.userID {
			b.adoptUserID(m.UserID)
		}
		b.color = m.Color
	case protocol.TypeGenerationStarted:
		b.generating = true
	case protocol.TypeGenerationComplete:
		var m protocol.GenerationComplete
		if err := env.Into(&m); err != nil {
			return err
		}
		b.generating = false
		b.currentImage = m.ImagePath
		// Words after a new image never join a group drawn into it.
		b.groupID = b.newGroupID()
	case protocol.TypeGenerationFailed:
		var m protocol.GenerationFailed
		if err := env.Into(&m); err != nil {
			return err
		}
		b.generating = false
		b.lastError = m.Error
	case protocol.TypeCursorUpdate:
		var m protocol.CursorUpdate
		if err := env.Into(&m); err != nil {
			return err
		}
		b.remotes[m.ID] = view.RemoteCursor{ID: m.ID, Position: m.Position, Color: m.Color}
	case protocol.TypeCursorLeave:
		var m protocol.CursorLeave
		if err := env.Into(&m); err != nil {
			return err
		}
		delete(b.remotes, m.ID)
	case protocol.TypeError:
		var m protocol.Error
		if err := env.Into(&m); err != nil {
			return err
		}
		b.lastError = m.Message
		b.rollback()
	default:
		return fmt.Errorf("unknown event %q", env.Type)
	}
	return nil
}

func (b *Board) reset(m protocol.InitialState) {
	if m.Width > 0 {
		b.width = m.Width
	}
	if m.Capacity > 0 {
		b.capacity = m.Capacity
	}
	b.cells = make(map[int]grid.Cell, len(m.Cells))
	for _, c := range m.Cells {
		b.cells[c.Position] = c
	}
	b.pending = make(map[int]grid.Cell)
	b.remotes = make(map[string]view.RemoteCursor)
	b.next = m.NextPosition
	b.cursor = m.NextPosition
	b.wordCount = m.WordCount
	b.online = m.OnlineCount
	b.currentImage = m.CurrentImage
	b.groupID = b.newGroupID()
	b.groups = nil
}

// placed applies an authoritative cell. The authority's order wins: the
// slot is overwritten, our matching optimistic word is retired wherever we
// had put it, and the cursor never stays at or behind a committed cell.
func (b *Board) placed(c grid.Cell) {
	if _, dup := b.cells[c.Position]; !dup {
		b.wordCount++
	}
	b.cells[c.Position] = c
	b.next = max(b.next, c.Position+1)

	if c.UserID == b.userID {
		if slot, ok := b.pendingSlot(c.Word); ok {
			delete(b.pending, slot)
		}
	}
	// An optimistic word displaced from this slot reappears when its own
	// echo lands.
	delete(b.pending, c.Position)

	if c.UserID != b.userID && c.Position >= b.cursor {
		b.groupID = b.newGroupID()
	}
	if b.cursor <= c.Position {
		b.cursor = min(c.Position+1, b.capacity)
	}
	b.groups = nil
}

func (b *Board) adoptUserID(id string) {
	b.userID = id
	for pos, p := range b.pending {
		p.UserID = id
		b.pending[pos] = p
	}
}

// pendingSlot finds the earliest optimistic placement of word.
func (b *Board) pendingSlot(word string) (int, bool) {
	best, found := 0, false
	for pos, p := range b.pending {
		if p.Word == word && (!found || pos < best) {
			best, found = pos, true
		}
	}
	return best, found
}

// rollback drops every unconfirmed placement and returns the cursor to the
// authority's next position. Words still in flight come back with their
// echo.
func (b *Board) rollback() {
	if len(b.pending) == 0 {
		return
	}
	b.pending = make(map[int]grid.Cell)
	b.cursor = b.next
	b.groups = nil
}
