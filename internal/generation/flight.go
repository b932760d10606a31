// Package generation turns the committed prompt into an image. At most one
// generation runs at a time; the Flight state machine enforces it.
package generation

import "sync"

// State is the generation cycle state.
type State int

const (
	Idle State = iota
	Generating
)

func (s State) String() string {
	if s == Generating {
		return "generating"
	}
	return "idle"
}

// Flight is the single-flight guard. It only moves Idle -> Generating through
// TryAcquire and back through the release func TryAcquire returns.
type Flight struct {
	mu    sync.Mutex
	state State
}

// TryAcquire moves the flight to Generating. It returns false if a generation
// is already in progress. The returned release func is idempotent.
func (f *Flight) TryAcquire() (release func(), ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Generating {
		return nil, false
	}
	f.state = Generating

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.state = Idle
			f.mu.Unlock()
		})
	}, true
}

// State returns the current state.
func (f *Flight) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
