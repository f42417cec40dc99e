// Package status tracks the lifecycle of one historical sync run.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omnidesk/omnisync/internal/bus"
)

// State represents a sync-run lifecycle state.
type State string

const (
	Pending     State = "PENDING"
	Enumerating State = "ENUMERATING_CONVERSATIONS"
	Processing  State = "PROCESSING_CONVERSATION"
	Completed   State = "COMPLETED"
	Failed      State = "FAILED"
	Cancelled   State = "CANCELLED"
)

// validTransitions defines allowed state transitions. Processing loops on
// itself once per conversation.
var validTransitions = map[State][]State{
	Pending:     {Enumerating, Failed, Cancelled},
	Enumerating: {Processing, Completed, Failed, Cancelled},
	Processing:  {Processing, Enumerating, Completed, Failed, Cancelled},
}

// Run tracks and enforces the state of one sync run.
type Run struct {
	mu        sync.RWMutex
	id        string
	accountID string
	current   State
	startedAt time.Time
	bus       *bus.Bus
}

// NewRun creates a run in Pending for the given account.
func NewRun(accountID string, b *bus.Bus) *Run {
	return &Run{
		id:        uuid.NewString(),
		accountID: accountID,
		current:   Pending,
		startedAt: time.Now(),
		bus:       b,
	}
}

// ID returns the run's unique id.
func (r *Run) ID() string {
	return r.id
}

// Current returns the current state.
func (r *Run) Current() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Terminal reports whether the run has finished.
func (r *Run) Terminal() bool {
	switch r.Current() {
	case Completed, Failed, Cancelled:
		return true
	}
	return false
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (r *Run) Transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	allowed := validTransitions[r.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", r.current, to)
	}
	from := r.current
	r.current = to
	if r.bus != nil && from != to {
		r.bus.Publish(bus.Event{
			Kind:      "sync.state_changed",
			Timestamp: time.Now(),
			Payload: StateChange{
				RunID:     r.id,
				AccountID: r.accountID,
				From:      from,
				To:        to,
			},
		})
	}
	return nil
}

// StateChange is the payload for run state change events.
type StateChange struct {
	RunID     string
	AccountID string
	From      State
	To        State
}
