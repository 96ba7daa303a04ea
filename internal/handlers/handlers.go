package handlers

import (
	"context"
	"encoding/json"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/eventsub"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/listener"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/metrics"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/store"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
)

// Processor consumes verified webhook notifications
type Processor interface {
	Process(ctx context.Context, subType string, event json.RawMessage) error
}

// Handlers contains the HTTP handlers for the service
type Handlers struct {
	processor     Processor
	listeners     *listener.Manager
	reconciler    *eventsub.Reconciler
	streamers     *store.StreamerStore
	replay        ReplayCache
	webhookSecret string
	logger        logging.Logger
	metrics       *metrics.Metrics
}

// Config bundles the handler dependencies
type Config struct {
	Processor     Processor
	Listeners     *listener.Manager
	Reconciler    *eventsub.Reconciler
	Streamers     *store.StreamerStore
	Replay        ReplayCache
	WebhookSecret string
	Logger        logging.Logger
	Metrics       *metrics.Metrics
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg Config) *Handlers {
	replay := cfg.Replay
	if replay == nil {
		replay = NoopReplayCache{}
	}
	return &Handlers{
		processor:     cfg.Processor,
		listeners:     cfg.Listeners,
		reconciler:    cfg.Reconciler,
		streamers:     cfg.Streamers,
		replay:        replay,
		webhookSecret: cfg.WebhookSecret,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
}
