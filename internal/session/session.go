// Package session derives and persists the conversation identifier that
// correlates every message of one widget instance.
//
// A session is scoped to a scope key (the widget/license identifier) and
// lives in tab-scoped storage under "chat-widget-session-{scopeKey}". Two
// managers constructed with the same scope key against the same storage
// observe the same session id, which is what lets a widget re-mount without
// losing conversation continuity.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/embedchat/widget/internal/log"
)

// storageKeyPrefix namespaces session entries inside shared storage.
const storageKeyPrefix = "chat-widget-session-"

// ErrNoSession indicates no session has been started for the scope key.
var ErrNoSession = errors.New("no active session")

// Session describes one conversation identity. Never mutated after creation;
// Reset discards it and a fresh one is generated on next access.
type Session struct {
	ID        string
	ScopeKey  string
	StartTime time.Time
}

// Manager lazily creates and reuses the session for one scope key.
// Safe for concurrent use.
type Manager struct {
	scopeKey string
	storage  Storage
	logger   log.Logger

	mu      sync.Mutex
	started time.Time
}

// NewManager creates a session manager for the given scope key. A nil
// storage falls back to a process-local MemoryStorage.
func NewManager(scopeKey string, storage Storage, logger log.Logger) *Manager {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		scopeKey: scopeKey,
		storage:  storage,
		logger:   logger,
	}
}

// ScopeKey returns the scope key this manager was constructed with.
func (m *Manager) ScopeKey() string { return m.scopeKey }

// SessionID returns the persisted session id for this scope key, generating
// and storing a new cryptographically random id on first access.
func (m *Manager) SessionID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.storageKey()

	id, ok, err := m.storage.Get(key)
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	if ok && id != "" {
		if m.started.IsZero() {
			m.started = time.Now().UTC()
		}
		return id, nil
	}

	id = uuid.NewString()
	if err := m.storage.Set(key, id); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	m.started = time.Now().UTC()

	m.logger.Debug("session created", "scopeKey", m.scopeKey, "sessionId", id)
	return id, nil
}

// HasSession reports whether a session id exists for the scope key without
// creating one.
func (m *Manager) HasSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok, err := m.storage.Get(m.storageKey())
	return err == nil && ok && id != ""
}

// StartTime returns when this manager first observed its session.
// Returns ErrNoSession before the first SessionID call.
func (m *Manager) StartTime() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started.IsZero() {
		return time.Time{}, ErrNoSession
	}
	return m.started, nil
}

// Current returns the full session record, creating it if needed.
func (m *Manager) Current() (Session, error) {
	id, err := m.SessionID()
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	return Session{ID: id, ScopeKey: m.scopeKey, StartTime: started}, nil
}

// Reset discards the persisted session. The next SessionID call generates a
// fresh id. Idempotent.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.Delete(m.storageKey()); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	m.started = time.Time{}

	m.logger.Debug("session reset", "scopeKey", m.scopeKey)
	return nil
}

func (m *Manager) storageKey() string {
	return storageKeyPrefix + m.scopeKey
}
