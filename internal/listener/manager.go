package listener

import (
	"sync"
	"time"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/hub"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/models"
)

// Status reports one streamer's ingestion state
type Status struct {
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at"`
}

type state struct {
	running   bool
	startedAt time.Time
}

// Manager tracks per-streamer ingestion state. The state is advisory: it
// tells dashboards whether ingestion is logically enabled, it does not gate
// hub delivery. Held in memory only; a restart resets every streamer to
// stopped, which is fine because a restart drops every connection anyway.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*state
	hub    *hub.Hub
	logger logging.Logger
}

// NewManager creates a manager publishing state changes to the given hub
func NewManager(h *hub.Hub, logger logging.Logger) *Manager {
	return &Manager{
		states: make(map[string]*state),
		hub:    h,
		logger: logger,
	}
}

// Start marks a streamer's ingestion as running. Returns already=true when
// it was running before the call; that is a success, not an error.
func (m *Manager) Start(tenantID string) (already bool) {
	m.mu.Lock()
	s, ok := m.states[tenantID]
	if ok && s.running {
		m.mu.Unlock()
		return true
	}
	m.states[tenantID] = &state{running: true, startedAt: time.Now().UTC()}
	m.mu.Unlock()

	m.logger.WithField("tenant_id", tenantID).Info("Listener started")
	m.hub.Publish(tenantID, models.NewEvent(models.EventTypeListenerStarted, tenantID, nil))
	return false
}

// Stop marks a streamer's ingestion as stopped, symmetric to Start.
func (m *Manager) Stop(tenantID string) (already bool) {
	m.mu.Lock()
	s, ok := m.states[tenantID]
	if !ok || !s.running {
		m.mu.Unlock()
		return true
	}
	delete(m.states, tenantID)
	m.mu.Unlock()

	m.logger.WithField("tenant_id", tenantID).Info("Listener stopped")
	m.hub.Publish(tenantID, models.NewEvent(models.EventTypeListenerStopped, tenantID, nil))
	return false
}

// Status returns the current state. Pure read; safe for streamers that
// never started.
func (m *Manager) Status(tenantID string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[tenantID]
	if !ok || !s.running {
		return Status{Running: false, StartedAt: nil}
	}
	startedAt := s.startedAt
	return Status{Running: true, StartedAt: &startedAt}
}
