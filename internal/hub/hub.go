package hub

import (
	"sync"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/metrics"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/models"
)

// HandlerFunc receives events published for a subscribed streamer. Handlers
// run on the publisher's goroutine and must not block; slow consumers hand
// events off to their own buffer (the stream transports do) instead of
// stalling fan-out.
type HandlerFunc func(ev models.Event)

// Hub is the in-process fan-out point for overlay events, keyed by streamer.
// Publishing to a streamer with no subscribers is a no-op; nothing is
// buffered or redelivered. An instance is injected into handlers and
// transports rather than shared as a package global so tests can run
// isolated hubs.
type Hub struct {
	mu       sync.RWMutex
	channels map[string][]*Subscription
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// Subscription is the capability handle returned by Subscribe. Close
// detaches the handler; closing more than once is a no-op.
type Subscription struct {
	hub      *Hub
	tenantID string
	handler  HandlerFunc
	once     sync.Once
}

// NewHub creates an empty hub. m may be nil when publish counters are not
// wanted, e.g. in tests.
func NewHub(logger logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		channels: make(map[string][]*Subscription),
		logger:   logger,
		metrics:  m,
	}
}

// Subscribe attaches a handler to a streamer's channel. The channel is
// created implicitly on first subscribe.
func (h *Hub) Subscribe(tenantID string, fn HandlerFunc) *Subscription {
	sub := &Subscription{
		hub:      h,
		tenantID: tenantID,
		handler:  fn,
	}

	h.mu.Lock()
	h.channels[tenantID] = append(h.channels[tenantID], sub)
	count := len(h.channels[tenantID])
	h.mu.Unlock()

	h.logger.WithFields(logging.Fields{
		"tenant_id":   tenantID,
		"subscribers": count,
	}).Debug("Hub subscriber attached")

	return sub
}

// Publish delivers an event to every subscriber of the streamer's channel,
// synchronously and in publish order. Events never cross tenants.
func (h *Hub) Publish(tenantID string, ev models.Event) {
	h.mu.RLock()
	subs := h.channels[tenantID]
	snapshot := make([]*Subscription, len(subs))
	copy(snapshot, subs)
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
	}

	for _, sub := range snapshot {
		sub.handler(ev)
	}
}

// SubscriberCount returns the number of subscribers for a streamer
func (h *Hub) SubscriberCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[tenantID])
}

// Stats returns per-channel subscriber counts for health reporting
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := make(map[string]int, len(h.channels))
	for tenantID, subs := range h.channels {
		stats[tenantID] = len(subs)
	}
	return stats
}

// Close detaches the subscription from its channel. Safe to call multiple
// times; later calls do nothing and never affect other subscribers.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.channels[sub.tenantID]
	for i, candidate := range subs {
		if candidate == sub {
			h.channels[sub.tenantID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	// Drop empty channels so idle tenants cost nothing
	if len(h.channels[sub.tenantID]) == 0 {
		delete(h.channels, sub.tenantID)
	}
}
