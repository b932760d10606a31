package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bodul/wordgrid/internal/generation"
	"github.com/bodul/wordgrid/internal/grid"
	"github.com/bodul/wordgrid/internal/protocol"
)

const anonymousColor = "#9ca3af"

// session is the authority's view of one connected client.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	sub    *subscriber
	logger *zap.Logger

	userID string
	color  string

	submitRL *rate.Limiter
	cursorRL *rate.Limiter
}

// GET /ws — bidirectional event channel.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	sess := &session{
		srv:      s,
		conn:     conn,
		logger:   s.logger.With(zap.String("conn", id)),
		color:    anonymousColor,
		submitRL: rate.NewLimiter(rate.Limit(s.cfg.Limits.SubmitPerSecond), s.cfg.Limits.SubmitBurst),
		cursorRL: rate.NewLimiter(rate.Limit(s.cfg.Limits.CursorPerSecond), int(s.cfg.Limits.CursorPerSecond)+1),
	}
	sess.run(r.Context(), id)
}

func (c *session) run(ctx context.Context, id string) {
	s := c.srv

	if err := s.connect(ctx, c, id); err != nil {
		c.logger.Error("send initial state", zap.Error(err))
		c.conn.Close()
		return
	}
	c.logger.Debug("client connected", zap.Int("online", s.hub.Count()))

	defer func() {
		s.hub.Unregister(c.sub)
		s.hub.Broadcast(protocol.Encode(protocol.CursorLeave{Type: protocol.TypeCursorLeave, ID: c.sub.id}))
		s.broadcastUsers()
		c.logger.Debug("client disconnected", zap.String("user", c.userID))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.sendError("Malformed message")
			continue
		}
		c.dispatch(ctx, env)
	}
}

// connect registers the subscriber and pushes the snapshot to it. The
// snapshot is taken under publishMu so no word broadcast can slip in between
// the snapshot and the subscriber's first message.
func (s *Server) connect(ctx context.Context, c *session, id string) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	cells, err := s.store.AllCells(ctx)
	if err != nil {
		return err
	}
	st, err := s.store.State(ctx)
	if err != nil {
		return err
	}
	if cells == nil {
		cells = []grid.Cell{}
	}

	c.sub = s.hub.Register(id)
	go writePump(c.conn, c.sub)

	layout := s.allocator.Layout()
	s.hub.SendTo(id, protocol.Encode(protocol.InitialState{
		Type:         protocol.TypeInitialState,
		Cells:        cells,
		NextPosition: st.NextPosition,
		CurrentImage: st.CurrentImage,
		WordCount:    len(cells),
		OnlineCount:  s.hub.Count(),
		Width:        layout.Width,
		Capacity:     layout.Capacity,
	}))
	s.broadcastUsers()
	return nil
}

func (s *Server) broadcastUsers() {
	s.hub.Broadcast(protocol.Encode(protocol.UsersUpdate{Type: protocol.TypeUsersUpdate, Count: s.hub.Count()}))
}

func (c *session) dispatch(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRegister:
		var m protocol.Register
		if err := env.Into(&m); err != nil {
			c.sendError("Malformed register message")
			return
		}
		c.register(ctx, m)
	case protocol.TypeSubmitWord:
		var m protocol.SubmitWord
		if err := env.Into(&m); err != nil {
			c.sendError("Malformed word submission")
			return
		}
		c.submit(ctx, m.UserID, []string{m.Word}, m.GroupID, false)
	case protocol.TypeSubmitWords:
		var m protocol.SubmitWords
		if err := env.Into(&m); err != nil {
			c.sendError("Malformed word submission")
			return
		}
		c.submit(ctx, m.UserID, m.Words, m.GroupID, true)
	case protocol.TypeRequestGenerate:
		c.requestGenerate(ctx)
	case protocol.TypeCursorMove:
		var m protocol.CursorMove
		if err := env.Into(&m); err != nil {
			return
		}
		c.moveCursor(m)
	default:
		c.sendError("Unknown message type: " + env.Type)
	}
}

func (c *session) register(ctx context.Context, m protocol.Register) {
	userID := sanitizeUserID(m.UserID)
	if userID == "" {
		c.sendError("Missing user id")
		return
	}

	var user grid.User
	err := c.srv.store.Update(ctx, func(tx grid.Tx) error {
		var err error
		user, err = tx.GetOrCreateUser(userID)
		return err
	})
	if err != nil {
		c.logger.Error("register user", zap.Error(err))
		c.sendError("Could not register")
		return
	}

	c.userID, c.color = user.ID, user.Color
	c.logger = c.logger.With(zap.String("user", user.ID))
	c.send(protocol.Encode(protocol.UserRegistered{Type: protocol.TypeUserRegistered, UserID: user.ID, Color: user.Color}))
}

func (c *session) submit(ctx context.Context, userID string, words []string, groupID string, batch bool) {
	s := c.srv
	if !c.submitRL.Allow() {
		c.sendError("Too many submissions, slow down")
		return
	}

	userID = sanitizeUserID(userID)
	if userID == "" {
		userID = c.userID
	}
	if userID == "" {
		c.sendError(errUnknownUser.Error())
		return
	}

	words, err := normalizeBatch(words, s.cfg.Limits.MaxWordRunes, s.cfg.Limits.MaxBatchWords)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	s.publishMu.Lock()
	var cells []grid.Cell
	if batch {
		cells, err = s.allocator.ClaimBatch(ctx, userID, words, groupID)
	} else {
		var cell grid.Cell
		cell, err = s.allocator.Claim(ctx, userID, words[0], groupID)
		cells = []grid.Cell{cell}
	}
	if err == nil {
		width := s.allocator.Layout().Width
		for _, cell := range cells {
			s.hub.Broadcast(protocol.Encode(protocol.NewWordPlaced(cell, width)))
		}
	}
	s.publishMu.Unlock()

	switch {
	case errors.Is(err, grid.ErrGridFull):
		c.sendError("The grid is full")
	case err != nil:
		c.logger.Error("claim failed", zap.Error(err))
		c.sendError("Could not place word")
	default:
		c.logger.Debug("words placed", zap.Int("count", len(cells)), zap.Int("first", cells[0].Position))
	}
}

func (c *session) requestGenerate(ctx context.Context) {
	if _, err := c.srv.pipeline.Request(ctx); err != nil {
		c.sendError(generationErrorMessage(err))
		if !isGenerationRejection(err) {
			c.logger.Error("generation request failed", zap.Error(err))
		}
	}
}

func (c *session) moveCursor(m protocol.CursorMove) {
	if !c.cursorRL.Allow() {
		return
	}
	layout := c.srv.allocator.Layout()
	if m.X < 0 || m.X >= layout.Width || m.Y < 0 || m.Y >= layout.Rows() {
		return
	}
	c.srv.hub.BroadcastExcept(c.sub.id, protocol.Encode(protocol.CursorUpdate{
		Type:     protocol.TypeCursorUpdate,
		ID:       c.sub.id,
		X:        m.X,
		Y:        m.Y,
		Position: m.Y*layout.Width + m.X,
		Color:    c.color,
	}))
}

func (c *session) send(msg []byte) {
	c.srv.hub.SendTo(c.sub.id, msg)
}

func (c *session) sendError(msg string) {
	c.send(protocol.Encode(protocol.Error{Type: protocol.TypeError, Message: msg}))
}

func isGenerationRejection(err error) bool {
	return errors.Is(err, generation.ErrAlreadyInProgress) ||
		errors.Is(err, generation.ErrCooldown) ||
		errors.Is(err, generation.ErrNoWords) ||
		errors.Is(err, generation.ErrDisabled)
}

func generationErrorMessage(err error) string {
	switch {
	case errors.Is(err, generation.ErrAlreadyInProgress):
		return "Generation already in progress"
	case errors.Is(err, generation.ErrCooldown):
		return "Please wait before generating again"
	case errors.Is(err, generation.ErrNoWords):
		return "No words to generate from"
	case errors.Is(err, generation.ErrDisabled):
		return "Image generation is not configured"
	default:
		return "Could not start generation"
	}
}
