// Package state holds the UI-visible widget state behind a single mutation
// point.
//
// Every component mutates state exclusively through Manager.Apply, which
// merges a partial patch and notifies subscribers in registration order.
// Concurrent callers are safe because each submits a disjoint patch; the
// message list is append-only so causal send order is preserved.
package state

import (
	"sync"
	"time"

	"github.com/embedchat/widget/internal/neterr"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one finalized entry of the conversation transcript.
// Immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the complete UI-visible widget state. Snapshots returned by
// Manager.Get are detached copies; mutating them has no effect.
type State struct {
	IsOpen    bool
	Messages  []Message
	IsLoading bool
	Err       *neterr.Error

	// Streaming is the in-progress assistant text while a stream is open,
	// nil otherwise. It is cleared in the same patch that appends the
	// finalized assistant message.
	Streaming *string
}

// Patch is a partial state update. Nil fields are left untouched; the
// boolean clear flags distinguish "set to nil" from "leave alone".
type Patch struct {
	IsOpen    *bool
	IsLoading *bool

	Err      *neterr.Error
	ClearErr bool

	Streaming      *string
	ClearStreaming bool

	// ClearMessages empties the transcript before AppendMessages is
	// applied. Used by session reset.
	ClearMessages bool

	// AppendMessages is appended to the transcript in order.
	AppendMessages []Message
}

// Listener receives a state snapshot after every applied patch.
type Listener func(State)

// Manager owns the widget state. Safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	state     State
	listeners []listenerEntry
	nextID    int
}

type listenerEntry struct {
	id int
	fn Listener
}

// NewManager creates a Manager holding the given initial state.
func NewManager(initial State) *Manager {
	return &Manager{state: initial}
}

// Get returns a detached snapshot of the current state.
func (m *Manager) Get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Apply shallow-merges the patch into the current state and notifies
// subscribers in registration order with the resulting snapshot.
func (m *Manager) Apply(p Patch) {
	m.mu.Lock()

	if p.IsOpen != nil {
		m.state.IsOpen = *p.IsOpen
	}
	if p.IsLoading != nil {
		m.state.IsLoading = *p.IsLoading
	}
	if p.ClearErr {
		m.state.Err = nil
	} else if p.Err != nil {
		m.state.Err = p.Err
	}
	if p.ClearStreaming {
		m.state.Streaming = nil
	} else if p.Streaming != nil {
		s := *p.Streaming
		m.state.Streaming = &s
	}
	if p.ClearMessages {
		m.state.Messages = nil
	}
	m.state.Messages = append(m.state.Messages, p.AppendMessages...)

	snapshot := m.snapshotLocked()
	listeners := make([]listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	// Listeners run outside the lock so they may read state or apply
	// further patches without deadlocking.
	for _, l := range listeners {
		l.fn(snapshot)
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
// Listeners are invoked in registration order.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) snapshotLocked() State {
	s := m.state
	s.Messages = make([]Message, len(m.state.Messages))
	copy(s.Messages, m.state.Messages)
	if m.state.Streaming != nil {
		v := *m.state.Streaming
		s.Streaming = &v
	}
	return s
}

// Bool returns a pointer to b, for building patches.
func Bool(b bool) *bool { return &b }

// Str returns a pointer to s, for building patches.
func Str(s string) *string { return &s }
