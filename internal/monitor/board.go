package monitor

import (
	"sort"
	"sync"
	"time"

	"replay-merge/internal/merge"
)

// Source is the read side of a merge controller. *merge.Controller
// satisfies it.
type Source interface {
	ID() string
	State() merge.State
	Err() error
	IsCaughtUp() bool
	Position() merge.Position
	LivePosition() merge.Position
	ReplaySessionID() merge.ReplaySessionID
}

// Status is a point-in-time view of one merge.
type Status struct {
	ID              string    `json:"id"`
	State           string    `json:"state"`
	Position        int64     `json:"position"`
	LivePosition    int64     `json:"live_position"`
	CaughtUp        bool      `json:"caught_up"`
	Error           string    `json:"error,omitempty"`
	ReplaySessionID int64     `json:"replay_session_id"`
	UpdatedAt       time.Time `json:"updated_at"`

	terminal bool
}

// Board holds the latest Status of every merge it has been shown. Controllers
// are not safe for concurrent use, so the goroutine polling a controller
// publishes snapshots here and HTTP handlers read them.
type Board struct {
	mu       sync.RWMutex
	statuses map[string]Status
	now      func() time.Time
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{
		statuses: make(map[string]Status),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Update records the current state of src.
func (b *Board) Update(src Source) {
	st := Status{
		ID:              src.ID(),
		State:           src.State().String(),
		Position:        int64(src.Position()),
		LivePosition:    int64(src.LivePosition()),
		CaughtUp:        src.IsCaughtUp(),
		ReplaySessionID: int64(src.ReplaySessionID()),
		terminal:        src.State().Terminal(),
	}
	if err := src.Err(); err != nil {
		st.Error = err.Error()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	st.UpdatedAt = b.now()
	b.statuses[st.ID] = st
}

// Get returns the last recorded status of the merge with the given id.
func (b *Board) Get(id string) (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.statuses[id]
	return st, ok
}

// List returns every recorded status ordered by id.
func (b *Board) List() []Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Status, 0, len(b.statuses))
	for _, st := range b.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveCount returns the number of merges not yet in a terminal state.
func (b *Board) ActiveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, st := range b.statuses {
		if !st.terminal {
			n++
		}
	}
	return n
}
