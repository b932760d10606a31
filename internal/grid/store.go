package grid

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tx is the set of operations the allocator composes into one atomic unit.
type Tx interface {
	ReadNextPosition() (int, error)
	WriteCell(c Cell) error
	AdvanceNextPosition(next int) error
	IncrementUserContribution(userID string, delta int) error
	GetOrCreateUser(userID string) (User, error)
}

// Store is the durable record of claimed positions, users and generation
// history. Update runs fn as one serializable transaction: either every write
// made through the Tx is committed or none is.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error

	AllCells(ctx context.Context) ([]Cell, error)
	CellCount(ctx context.Context) (int, error)
	PromptWindow(ctx context.Context, maxWords int) (string, error)
	FullPrompt(ctx context.Context) (string, error)

	State(ctx context.Context) (AuthorityState, error)
	SetCurrentImage(ctx context.Context, path string) error
	GetUser(ctx context.Context, id string) (User, error)

	CreateGeneration(ctx context.Context, rec GenerationRecord) (GenerationRecord, error)
	FinishGeneration(ctx context.Context, id int64, status GenerationStatus, imagePath, errText string) error
	RecentGenerations(ctx context.Context, n int) ([]GenerationRecord, error)

	Close() error
}

// MemoryStore keeps the grid in memory.
type MemoryStore struct {
	mu           sync.RWMutex
	cells        map[int]Cell
	users        map[string]*User
	generations  []GenerationRecord
	nextPosition int
	currentImage string
	now          func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cells: make(map[int]Cell),
		users: make(map[string]*User),
		now:   time.Now,
	}
}

// memTx buffers writes until the transaction callback succeeds.
type memTx struct {
	s        *MemoryStore
	cells    []Cell
	next     int
	newUsers map[string]*User
	deltas   map[string]int
}

func (tx *memTx) ReadNextPosition() (int, error) { return tx.next, nil }

func (tx *memTx) WriteCell(c Cell) error {
	if _, ok := tx.s.cells[c.Position]; ok {
		return fmt.Errorf("write cell %d: %w", c.Position, ErrPositionTaken)
	}
	for _, p := range tx.cells {
		if p.Position == c.Position {
			return fmt.Errorf("write cell %d: %w", c.Position, ErrPositionTaken)
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = tx.s.now()
	}
	tx.cells = append(tx.cells, c)
	return nil
}

func (tx *memTx) AdvanceNextPosition(next int) error {
	if next < tx.next {
		return fmt.Errorf("next position cannot move backwards (%d -> %d)", tx.next, next)
	}
	tx.next = next
	return nil
}

func (tx *memTx) IncrementUserContribution(userID string, delta int) error {
	if _, err := tx.GetOrCreateUser(userID); err != nil {
		return err
	}
	tx.deltas[userID] += delta
	return nil
}

func (tx *memTx) GetOrCreateUser(userID string) (User, error) {
	if u, ok := tx.s.users[userID]; ok {
		cp := *u
		cp.WordsContributed += tx.deltas[userID]
		return cp, nil
	}
	if u, ok := tx.newUsers[userID]; ok {
		cp := *u
		cp.WordsContributed += tx.deltas[userID]
		return cp, nil
	}
	u := &User{ID: userID, Color: ColorForUser(userID), CreatedAt: tx.s.now()}
	tx.newUsers[userID] = u
	return *u, nil
}

// Update runs fn under the write lock and commits its buffered writes only
// when fn returns nil.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		next:     s.nextPosition,
		newUsers: make(map[string]*User),
		deltas:   make(map[string]int),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for _, c := range tx.cells {
		s.cells[c.Position] = c
	}
	for id, u := range tx.newUsers {
		s.users[id] = u
	}
	for id, d := range tx.deltas {
		s.users[id].WordsContributed += d
	}
	s.nextPosition = tx.next
	return nil
}

// AllCells returns every committed cell ordered by position.
func (s *MemoryStore) AllCells(_ context.Context) ([]Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedCells(), nil
}

func (s *MemoryStore) sortedCells() []Cell {
	list := make([]Cell, 0, len(s.cells))
	for _, c := range s.cells {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Position < list[j].Position })
	return list
}

// CellCount returns the number of committed cells.
func (s *MemoryStore) CellCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells), nil
}

// PromptWindow returns the last maxWords words, oldest first.
func (s *MemoryStore) PromptWindow(_ context.Context, maxWords int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cells := s.sortedCells()
	if maxWords > 0 && len(cells) > maxWords {
		cells = cells[len(cells)-maxWords:]
	}
	return joinWords(cells), nil
}

// FullPrompt returns every word, oldest first.
func (s *MemoryStore) FullPrompt(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return joinWords(s.sortedCells()), nil
}

func joinWords(cells []Cell) string {
	words := make([]string, len(cells))
	for i, c := range cells {
		words[i] = c.Word
	}
	return strings.Join(words, " ")
}

// State returns the authority state.
func (s *MemoryStore) State(_ context.Context) (AuthorityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return AuthorityState{NextPosition: s.nextPosition, CurrentImage: s.currentImage}, nil
}

// SetCurrentImage records the most recent delivered image.
func (s *MemoryStore) SetCurrentImage(_ context.Context, path string) error {
	s.mu.Lock()
	s.currentImage = path
	s.mu.Unlock()
	return nil
}

// GetUser returns a user by id.
func (s *MemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return *u, nil
}

// CreateGeneration stores a new record and assigns its id.
func (s *MemoryStore) CreateGeneration(_ context.Context, rec GenerationRecord) (GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = int64(len(s.generations) + 1)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.generations = append(s.generations, rec)
	return rec, nil
}

// FinishGeneration moves a record out of the generating state.
func (s *MemoryStore) FinishGeneration(_ context.Context, id int64, status GenerationStatus, imagePath, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 1 || int(id) > len(s.generations) {
		return fmt.Errorf("generation %d: %w", id, ErrNotFound)
	}
	rec := &s.generations[id-1]
	rec.Status = status
	if imagePath != "" {
		rec.ImagePath = imagePath
	}
	rec.Error = errText
	return nil
}

// RecentGenerations returns up to n records, most recent first.
func (s *MemoryStore) RecentGenerations(_ context.Context, n int) ([]GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]GenerationRecord, 0, n)
	for i := len(s.generations) - 1; i >= 0 && len(list) < n; i-- {
		list = append(list, s.generations[i])
	}
	return list, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
