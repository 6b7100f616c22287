package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolethescientist/email-engine/internal/mailbox"
)

// State is the position of a watch loop in its lifecycle.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateWatching
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateWatching:
		return "watching"
	case StateCancelled:
		return "cancelled"
	}
	return "idle"
}

// Mode is the synchronization mode requested for a watch.
type Mode struct {
	watch    bool
	interval time.Duration
}

// PollMode requests periodic polling at the given interval.
func PollMode(interval time.Duration) Mode {
	return Mode{interval: interval}
}

// WatchMode requests push-style waiting. Falls back to polling when the
// provider profile lacks the capability.
func WatchMode() Mode {
	return Mode{watch: true}
}

// Handle represents one active watch for a (user, folder) pair.
type Handle struct {
	ID     uuid.UUID
	User   string
	Folder mailbox.Folder

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu               sync.Mutex
	state            State
	lastNotification time.Time
}

func newHandle(user string, folder mailbox.Folder, cancel context.CancelFunc) *Handle {
	return &Handle{
		ID:     uuid.New(),
		User:   user,
		Folder: folder,
		events: make(chan Event, 32),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Events returns the handle's event stream. The channel is closed after the
// watch is stopped and its loop has fully exited.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// State returns the loop's current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LastNotification returns when the handle last emitted new mail.
func (h *Handle) LastNotification() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastNotification
}

func (h *Handle) setState(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Cancelled is terminal.
	if h.state == StateCancelled {
		return
	}
	h.state = state
}

func (h *Handle) markCancelled() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateCancelled
}

func (h *Handle) noted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastNotification = time.Now()
}

// emit delivers an event, giving up only when the watch is cancelled so a
// slow consumer can never outlast cancellation.
func (h *Handle) emit(ctx context.Context, event Event) {
	select {
	case h.events <- event:
	case <-ctx.Done():
	}
}
