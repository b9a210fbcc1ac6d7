package session

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/embedchat/widget/internal/log"
)

func TestSessionIDIsStable(t *testing.T) {
	t.Parallel()

	m := NewManager("widget-1", nil, log.NewNop())

	first, err := m.SessionID()
	if err != nil {
		t.Fatalf("SessionID: %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("session id %q is not a UUID: %v", first, err)
	}

	second, err := m.SessionID()
	if err != nil {
		t.Fatalf("SessionID: %v", err)
	}
	if first != second {
		t.Errorf("session id changed between calls: %s vs %s", first, second)
	}
}

func TestSharedScopeKeySharesSession(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	a := NewManager("widget-1", storage, log.NewNop())
	b := NewManager("widget-1", storage, log.NewNop())

	idA, err := a.SessionID()
	if err != nil {
		t.Fatalf("SessionID: %v", err)
	}
	idB, err := b.SessionID()
	if err != nil {
		t.Fatalf("SessionID: %v", err)
	}

	if idA != idB {
		t.Errorf("managers with the same scope key disagree: %s vs %s", idA, idB)
	}
}

func TestDistinctScopeKeys(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	a := NewManager("widget-1", storage, log.NewNop())
	b := NewManager("widget-2", storage, log.NewNop())

	idA, _ := a.SessionID()
	idB, _ := b.SessionID()
	if idA == idB {
		t.Error("different scope keys must not share a session id")
	}
}

func TestHasSession(t *testing.T) {
	t.Parallel()

	m := NewManager("widget-1", nil, log.NewNop())

	if m.HasSession() {
		t.Error("HasSession should be false before the first SessionID call")
	}
	if _, err := m.SessionID(); err != nil {
		t.Fatalf("SessionID: %v", err)
	}
	if !m.HasSession() {
		t.Error("HasSession should be true after SessionID")
	}
}

func TestStartTime(t *testing.T) {
	t.Parallel()

	m := NewManager("widget-1", nil, log.NewNop())

	if _, err := m.StartTime(); !errors.Is(err, ErrNoSession) {
		t.Errorf("StartTime before session = %v, want ErrNoSession", err)
	}

	if _, err := m.SessionID(); err != nil {
		t.Fatalf("SessionID: %v", err)
	}

	started, err := m.StartTime()
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	if started.IsZero() {
		t.Error("StartTime should be set after SessionID")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	m := NewManager("widget-1", nil, log.NewNop())

	first, _ := m.SessionID()
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.HasSession() {
		t.Error("HasSession should be false after Reset")
	}

	second, _ := m.SessionID()
	if first == second {
		t.Error("session id should be regenerated after Reset")
	}
}

func TestCurrent(t *testing.T) {
	t.Parallel()

	m := NewManager("widget-9", nil, log.NewNop())

	sess, err := m.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if sess.ScopeKey != "widget-9" {
		t.Errorf("ScopeKey = %s, want widget-9", sess.ScopeKey)
	}
	if sess.ID == "" || sess.StartTime.IsZero() {
		t.Errorf("incomplete session record: %+v", sess)
	}
}
