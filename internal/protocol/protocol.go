// Package protocol defines the JSON events exchanged over the grid's
// websocket channel. Every message is a flat JSON object with a "type" field.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/bodul/wordgrid/internal/grid"
)

// Authority to client.
const (
	TypeInitialState       = "initial-state"
	TypeWordPlaced         = "word-placed"
	TypeUsersUpdate        = "users-update"
	TypeUserRegistered     = "user-registered"
	TypeGenerationStarted  = "generation-started"
	TypeGenerationComplete = "generation-complete"
	TypeGenerationFailed   = "generation-failed"
	TypeCursorUpdate       = "cursor-update"
	TypeCursorLeave        = "cursor-leave"
	TypeError              = "error"
)

// Client to authority.
const (
	TypeRegister        = "register"
	TypeSubmitWord      = "submit-word"
	TypeSubmitWords     = "submit-words"
	TypeRequestGenerate = "request-generate"
	TypeCursorMove      = "cursor-move"
)

// Envelope carries a decoded type and the raw message for a second decode.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// Decode reads the type of a message.
func Decode(data []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("decode message: %w", err)
	}
	if head.Type == "" {
		return Envelope{}, fmt.Errorf("decode message: missing type")
	}
	return Envelope{Type: head.Type, Raw: data}, nil
}

// Into decodes the full message into v.
func (e Envelope) Into(v any) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// Encode marshals an event. Events set their own Type field.
func Encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Events are plain structs; a marshal failure is a programming error.
		panic(fmt.Sprintf("protocol: encode %T: %v", v, err))
	}
	return b
}

type InitialState struct {
	Type         string      `json:"type"`
	Cells        []grid.Cell `json:"cells"`
	NextPosition int         `json:"nextPosition"`
	CurrentImage string      `json:"currentImage"`
	WordCount    int         `json:"wordCount"`
	OnlineCount  int         `json:"onlineCount"`
	Width        int         `json:"width"`
	Capacity     int         `json:"capacity"`
}

type WordPlaced struct {
	Type      string `json:"type"`
	Position  int    `json:"position"`
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Word      string `json:"word"`
	UserID    string `json:"userId"`
	UserColor string `json:"userColor"`
	GroupID   string `json:"groupId"`
}

// NewWordPlaced builds the broadcast for a committed cell.
func NewWordPlaced(c grid.Cell, width int) WordPlaced {
	return WordPlaced{
		Type:      TypeWordPlaced,
		Position:  c.Position,
		Row:       c.Row(width),
		Col:       c.Col(width),
		Word:      c.Word,
		UserID:    c.UserID,
		UserColor: c.UserColor,
		GroupID:   c.GroupID,
	}
}

// Cell converts the event back into a cell record.
func (w WordPlaced) Cell() grid.Cell {
	return grid.Cell{
		Position:  w.Position,
		Word:      w.Word,
		UserID:    w.UserID,
		UserColor: w.UserColor,
		GroupID:   w.GroupID,
	}
}

type UsersUpdate struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// UserRegistered confirms a register. UserID is the id the authority stores
// and echoes in word-placed events, which may differ from the one sent.
type UserRegistered struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Color  string `json:"color"`
}

type GenerationStarted struct {
	Type      string `json:"type"`
	WordCount int    `json:"wordCount"`
}

type GenerationComplete struct {
	Type      string `json:"type"`
	ImagePath string `json:"imagePath"`
	WordCount int    `json:"wordCount"`
}

type GenerationFailed struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type CursorUpdate struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Position int    `json:"position"`
	Color    string `json:"color"`
}

type CursorLeave struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Register struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type SubmitWord struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	Word    string `json:"word"`
	GroupID string `json:"groupId"`
}

type SubmitWords struct {
	Type    string   `json:"type"`
	UserID  string   `json:"userId"`
	Words   []string `json:"words"`
	GroupID string   `json:"groupId"`
}

type RequestGenerate struct {
	Type string `json:"type"`
}

// CursorMove reports the sender's typing cursor as a grid column (X) and row (Y).
type CursorMove struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}
