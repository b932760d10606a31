package grid

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestClaimAssignsSequentialPositions(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(NewMemoryStore(), DefaultLayout)

	c1, err := a.Claim(ctx, "alice", "cat", "")
	require.NoError(t, err)
	c2, err := a.Claim(ctx, "alice", "hat", c1.GroupID)
	require.NoError(t, err)

	assert.Equal(t, 0, c1.Position)
	assert.Equal(t, 1, c2.Position)
	assert.NotEmpty(t, c1.GroupID, "a group id is generated when none is supplied")
	assert.Equal(t, c1.GroupID, c2.GroupID)
	assert.Equal(t, ColorForUser("alice"), c1.UserColor)

	st, err := a.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, AllocatorState{NextPosition: 2, Capacity: Capacity, Remaining: Capacity - 2}, st)

	u, err := a.store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, u.WordsContributed)
}

func TestClaimBatchSharesGroup(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(NewMemoryStore(), DefaultLayout)

	cells, err := a.ClaimBatch(ctx, "bob", []string{"a", "red", "fox"}, "g1")
	require.NoError(t, err)
	require.Len(t, cells, 3)
	for i, c := range cells {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, "g1", c.GroupID)
	}

	cells, err = a.ClaimBatch(ctx, "bob", []string{"x", "y"}, "")
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, cells[0].GroupID, cells[1].GroupID)
	assert.NotEqual(t, "g1", cells[0].GroupID)
}

func TestClaimBatchEmptyDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := NewAllocator(store, DefaultLayout)

	cells, err := a.ClaimBatch(ctx, "bob", nil, "")
	require.NoError(t, err)
	assert.Empty(t, cells)

	st, err := store.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.NextPosition)
	_, err = store.GetUser(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimBatchTruncatesAtCapacity(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(NewMemoryStore(), Layout{Width: 2, Capacity: 4})

	_, err := a.Claim(ctx, "a", "one", "")
	require.NoError(t, err)

	cells, err := a.ClaimBatch(ctx, "b", []string{"two", "three", "four", "five"}, "")
	require.NoError(t, err)
	assert.Len(t, cells, 3)

	st, err := a.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.NextPosition)
	assert.Equal(t, 0, st.Remaining)

	_, err = a.Claim(ctx, "a", "six", "")
	assert.ErrorIs(t, err, ErrGridFull)
	_, err = a.ClaimBatch(ctx, "a", []string{"seven"}, "")
	assert.ErrorIs(t, err, ErrGridFull)
}

func TestConcurrentClaimsAreGapFree(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()
			defer store.Close()
			a := NewAllocator(store, DefaultLayout)

			const workers = 50
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				positions []int
			)
			for i := range workers {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					var got []Cell
					if i%2 == 0 {
						c, err := a.Claim(ctx, "user", "w", "")
						if err != nil {
							t.Error(err)
							return
						}
						got = []Cell{c}
					} else {
						cs, err := a.ClaimBatch(ctx, "user", []string{"x", "y", "z"}, "")
						if err != nil {
							t.Error(err)
							return
						}
						got = cs
					}
					mu.Lock()
					for _, c := range got {
						positions = append(positions, c.Position)
					}
					mu.Unlock()
				}(i)
			}
			wg.Wait()

			sort.Ints(positions)
			want := workers/2 + workers/2*3
			require.Len(t, positions, want)
			for i, p := range positions {
				require.Equal(t, i, p, "positions must be exactly 0..N-1")
			}

			// The store agrees with what the claimers were told.
			cells, err := store.AllCells(ctx)
			require.NoError(t, err)
			require.Len(t, cells, want)
			for i, c := range cells {
				require.Equal(t, i, c.Position)
			}
			st, err := store.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, st.NextPosition)
		})
	}
}

func TestRaceOnTinyGrid(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()
			defer store.Close()
			a := NewAllocator(store, Layout{Width: 2, Capacity: 4})

			var wg sync.WaitGroup
			results := make([][]Cell, 2)
			for i, user := range []string{"A", "B"} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					cells, err := a.ClaimBatch(ctx, user, []string{"w1", "w2", "w3"}, "")
					if err != nil {
						t.Error(err)
					}
					results[i] = cells
				}()
			}
			wg.Wait()

			total := len(results[0]) + len(results[1])
			assert.Equal(t, 4, total)
			assert.True(t, len(results[0]) == 1 || len(results[1]) == 1, "one claimer is truncated")

			st, err := a.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, st.NextPosition)

			_, err = a.Claim(ctx, "A", "more", "")
			assert.True(t, errors.Is(err, ErrGridFull))

			count, err := store.CellCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, count)
		})
	}
}

func TestSealGroupsStartsNewBaseline(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(NewMemoryStore(), DefaultLayout)

	before, err := a.Claim(ctx, "u", "sun", "g")
	require.NoError(t, err)
	a.SealGroups()
	after1, err := a.Claim(ctx, "u", "moon", "g")
	require.NoError(t, err)
	after2, err := a.Claim(ctx, "u", "star", "g")
	require.NoError(t, err)

	assert.Equal(t, "g", before.GroupID)
	assert.NotEqual(t, before.GroupID, after1.GroupID)
	assert.Equal(t, after1.GroupID, after2.GroupID)

	cells, err := a.store.AllCells(ctx)
	require.NoError(t, err)
	groups := BuildGroups(cells, Width)
	require.Len(t, groups, 2)
	assert.Equal(t, Group{GroupID: "g", Row: 0, Start: 0, End: 0}, groups[0])
	assert.Equal(t, 1, groups[1].Start)
	assert.Equal(t, 2, groups[1].End)
}
