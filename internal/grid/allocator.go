package grid

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// AllocatorState is a point-in-time view of the allocator.
type AllocatorState struct {
	NextPosition int `json:"nextPosition"`
	Capacity     int `json:"capacity"`
	Remaining    int `json:"remaining"`
}

// Allocator is the only write path for cells. Every claim reads nextPosition,
// writes cells, advances nextPosition and bumps the user's counter inside one
// store transaction, and claims are serialized by mu so no two calls can
// observe the same nextPosition.
type Allocator struct {
	mu     sync.Mutex
	store  Store
	layout Layout

	// Group tags seen before the last seal are remapped so that words placed
	// after an image delivery start a new visual group.
	epoch  int
	active map[string]struct{}
	sealed map[string]struct{}
	newID  func() string
}

// NewAllocator creates an allocator over store.
func NewAllocator(store Store, layout Layout) *Allocator {
	return &Allocator{
		store:  store,
		layout: layout,
		active: make(map[string]struct{}),
		sealed: make(map[string]struct{}),
		newID:  uuid.NewString,
	}
}

// Layout returns the grid layout the allocator claims positions in.
func (a *Allocator) Layout() Layout { return a.layout }

// Claim places one word at the next free position.
func (a *Allocator) Claim(ctx context.Context, userID, word, groupID string) (Cell, error) {
	cells, err := a.claim(ctx, userID, []string{word}, groupID, false)
	if err != nil {
		return Cell{}, err
	}
	return cells[0], nil
}

// ClaimBatch places words at consecutive positions sharing one group tag. The
// batch is truncated to the remaining capacity; ErrGridFull is returned only
// when nothing could be placed. An empty batch is a no-op.
func (a *Allocator) ClaimBatch(ctx context.Context, userID string, words []string, groupID string) ([]Cell, error) {
	if len(words) == 0 {
		return []Cell{}, nil
	}
	return a.claim(ctx, userID, words, groupID, true)
}

func (a *Allocator) claim(ctx context.Context, userID string, words []string, groupID string, truncate bool) ([]Cell, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	groupID = a.resolveGroup(groupID)

	var placed []Cell
	err := a.store.Update(ctx, func(tx Tx) error {
		placed = placed[:0]

		next, err := tx.ReadNextPosition()
		if err != nil {
			return err
		}
		if next >= a.layout.Capacity {
			return ErrGridFull
		}
		n := len(words)
		if remaining := a.layout.Capacity - next; n > remaining {
			if !truncate {
				return ErrGridFull
			}
			n = remaining
		}

		user, err := tx.GetOrCreateUser(userID)
		if err != nil {
			return err
		}
		for _, w := range words[:n] {
			c := Cell{
				Position:  next,
				Word:      w,
				UserID:    userID,
				UserColor: user.Color,
				GroupID:   groupID,
			}
			if err := tx.WriteCell(c); err != nil {
				return err
			}
			placed = append(placed, c)
			next++
		}
		if err := tx.AdvanceNextPosition(next); err != nil {
			return err
		}
		return tx.IncrementUserContribution(userID, n)
	})
	if err != nil {
		return nil, fmt.Errorf("claim %d word(s): %w", len(words), err)
	}

	a.active[groupID] = struct{}{}
	return placed, nil
}

// resolveGroup returns the tag to store for a submission. Callers hold mu.
func (a *Allocator) resolveGroup(groupID string) string {
	if groupID == "" {
		return a.newID()
	}
	if _, ok := a.sealed[groupID]; ok {
		return groupID + "." + strconv.Itoa(a.epoch)
	}
	return groupID
}

// SealGroups starts a new group baseline. Tags used so far will no longer
// extend the groups they formed.
func (a *Allocator) SealGroups() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.epoch++
	for id := range a.active {
		a.sealed[id] = struct{}{}
	}
	a.active = make(map[string]struct{})
}

// State returns the current allocation state.
func (a *Allocator) State(ctx context.Context) (AllocatorState, error) {
	st, err := a.store.State(ctx)
	if err != nil {
		return AllocatorState{}, err
	}
	remaining := a.layout.Capacity - st.NextPosition
	if remaining < 0 {
		remaining = 0
	}
	return AllocatorState{
		NextPosition: st.NextPosition,
		Capacity:     a.layout.Capacity,
		Remaining:    remaining,
	}, nil
}
