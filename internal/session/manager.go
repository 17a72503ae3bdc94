// Package session implements the per-process session registry:
// a single mutable record per connected student, keyed by opaque session id.
package session

import (
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

type record struct {
	sessionID      string
	documentRef    string
	questionNumber int
	activePart     string
	contentMode    ContentMode
	lastSeen       time.Time
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		SessionID:      r.sessionID,
		DocumentRef:    r.documentRef,
		QuestionNumber: r.questionNumber,
		ActivePart:     r.activePart,
		ContentMode:    r.contentMode,
		LastSeen:       r.lastSeen,
	}
}

// Manager is the session registry. Exactly one session record may be active
// per process: Connect evicts every other record. EvictHook, if set, is
// invoked for every record evicted this way or by Disconnect, so callers
// can purge per-(session,page) transient state.
type Manager struct {
	mu        sync.RWMutex
	records   map[string]*record
	evictHook func(sessionID string)
}

func NewManager() *Manager {
	return &Manager{records: make(map[string]*record)}
}

// SetEvictHook registers a callback invoked whenever a session record is
// removed from the registry, whether by Connect evicting a prior session or
// by an explicit Disconnect.
func (m *Manager) SetEvictHook(hook func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictHook = hook
}

// Connect creates (or replaces) the single active session record, evicting
// every other record currently in the registry.
func (m *Manager) Connect(req ConnectRequest) Snapshot {
	now := time.Now().UTC()

	m.mu.Lock()
	var evicted []string
	for id := range m.records {
		if id != req.SessionID {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(m.records, id)
	}
	rec := &record{
		sessionID:      req.SessionID,
		documentRef:    req.DocumentRef,
		questionNumber: req.QuestionNumber,
		contentMode:    ContentModeMath,
		lastSeen:       now,
	}
	m.records[req.SessionID] = rec
	hook := m.evictHook
	m.mu.Unlock()

	if hook != nil {
		for _, id := range evicted {
			hook(id)
		}
	}
	return rec.snapshot()
}

// Disconnect removes a session record and fires the evict hook for it.
func (m *Manager) Disconnect(sessionID string) error {
	m.mu.Lock()
	_, ok := m.records[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.records, sessionID)
	hook := m.evictHook
	m.mu.Unlock()

	if hook != nil {
		hook(sessionID)
	}
	return nil
}

// Touch refreshes the last-seen timestamp for a session.
func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.lastSeen = time.Now().UTC()
	return nil
}

// Get returns a snapshot copy of the session record. Never a live reference.
func (m *Manager) Get(sessionID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return rec.snapshot(), nil
}

// SetActivePart updates the active part label. A nil label preserves the
// existing value rather than clearing it.
func (m *Manager) SetActivePart(sessionID string, label *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return ErrNotFound
	}
	if label != nil {
		rec.activePart = *label
	}
	rec.lastSeen = time.Now().UTC()
	return nil
}

// SetContentMode updates the content mode. A nil mode preserves the
// existing value.
func (m *Manager) SetContentMode(sessionID string, mode *ContentMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return ErrNotFound
	}
	if mode != nil {
		rec.contentMode = *mode
	}
	rec.lastSeen = time.Now().UTC()
	return nil
}

// ActiveCount reports how many session records exist (0 or 1 under the
// single-active-session policy).
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// ListActive returns a snapshot of every current session record, used by
// the admin introspection surface.
func (m *Manager) ListActive() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := make([]Snapshot, 0, len(m.records))
	for _, rec := range m.records {
		snaps = append(snaps, rec.snapshot())
	}
	return snaps
}
