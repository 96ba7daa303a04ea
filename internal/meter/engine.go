package meter

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/hub"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/store"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/models"
)

// defaultFactions is the faction set used until a streamer configures their
// own through the dashboard service.
var defaultFactions = []string{"crimson", "azure"}

// BroadcasterResolver maps a provider broadcaster id to a streamer id
type BroadcasterResolver interface {
	ResolveTenantByBroadcasterID(ctx context.Context, broadcasterUserID string) (string, error)
}

// notification is the provider event shape we care about; unknown fields
// are ignored.
type notification struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
	UserID            string `json:"user_id"`
	UserName          string `json:"user_name"`
	Bits              int    `json:"bits"`
	Total             int    `json:"total"`
}

// Engine turns verified webhook notifications into meter updates and
// publishes the resulting snapshot to the hub. Meters are in-memory running
// totals per streamer; the overlay only ever needs the latest snapshot, so
// nothing is persisted.
type Engine struct {
	mu       sync.Mutex
	meters   map[string]map[string]float64
	hub      *hub.Hub
	resolver BroadcasterResolver
	logger   logging.Logger
}

// NewEngine creates a meters engine publishing to the given hub
func NewEngine(h *hub.Hub, resolver BroadcasterResolver, logger logging.Logger) *Engine {
	return &Engine{
		meters:   make(map[string]map[string]float64),
		hub:      h,
		resolver: resolver,
		logger:   logger,
	}
}

// Process applies one verified notification. Unknown broadcasters and
// zero-point events are dropped quietly; only malformed payloads and
// resolver failures surface as errors.
func (e *Engine) Process(ctx context.Context, subType string, event json.RawMessage) error {
	var n notification
	if err := json.Unmarshal(event, &n); err != nil {
		return err
	}

	points := pointsFor(subType, &n)
	if points == 0 {
		return nil
	}

	tenantID, err := e.resolver.ResolveTenantByBroadcasterID(ctx, n.BroadcasterUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.WithField("broadcaster_user_id", n.BroadcasterUserID).
				Warn("Notification for unknown broadcaster dropped")
			return nil
		}
		return err
	}

	faction := assignFaction(n.UserID, defaultFactions)
	snapshot := e.apply(tenantID, faction, points)

	e.hub.Publish(tenantID, models.NewMetersEvent(tenantID, snapshot))

	e.logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"type":      subType,
		"faction":   faction,
		"points":    points,
	}).Debug("Meter updated")

	return nil
}

// Snapshot returns the current faction meters for a streamer
func (e *Engine) Snapshot(tenantID string) []models.Faction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(tenantID)
}

// Reset clears a streamer's meters, e.g. at round end
func (e *Engine) Reset(tenantID string) {
	e.mu.Lock()
	delete(e.meters, tenantID)
	e.mu.Unlock()

	e.hub.Publish(tenantID, models.NewMetersEvent(tenantID, nil))
}

func (e *Engine) apply(tenantID, faction string, points float64) []models.Faction {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.meters[tenantID]
	if !ok {
		m = make(map[string]float64)
		e.meters[tenantID] = m
	}
	m[faction] += points

	return e.snapshotLocked(tenantID)
}

func (e *Engine) snapshotLocked(tenantID string) []models.Faction {
	m := e.meters[tenantID]
	factions := make([]models.Faction, 0, len(m))
	for key, meter := range m {
		factions = append(factions, models.Faction{Key: key, Meter: meter})
	}
	sort.Slice(factions, func(i, j int) bool { return factions[i].Key < factions[j].Key })
	return factions
}

// pointsFor scores a notification. Cheers score per hundred bits, subs and
// gift totals score per seat.
func pointsFor(subType string, n *notification) float64 {
	switch subType {
	case "channel.cheer":
		return float64(n.Bits) / 100
	case "channel.subscribe", "channel.subscription.message":
		return 1
	case "channel.subscription.gift":
		return float64(n.Total)
	case "channel.follow":
		return 0.1
	default:
		return 0
	}
}

// assignFaction deterministically buckets a contributing user into one of
// the streamer's factions so repeat contributions always score the same team.
func assignFaction(userID string, factions []string) string {
	if len(factions) == 0 {
		return "none"
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	// Reduce in uint32 space; converting the hash to int first would go
	// negative on 32-bit platforms.
	return factions[h.Sum32()%uint32(len(factions))]
}
