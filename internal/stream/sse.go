package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/hub"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/metrics"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/store"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/models"
)

const (
	// keepaliveInterval paces the comment frames that keep proxies from
	// idle-closing the connection
	keepaliveInterval = 15 * time.Second

	// sendBuffer is the per-connection event buffer. When a client cannot
	// drain it, newer events are dropped; overlays are a latest-state-wins
	// domain, so losing an intermediate frame is preferable to stalling
	// every other subscriber.
	sendBuffer = 64
)

// TokenResolver maps an opaque overlay token to a streamer id
type TokenResolver interface {
	ResolveTenantByPublicToken(ctx context.Context, token string) (string, error)
}

// Server serves the long-lived event-stream endpoint for overlay clients
type Server struct {
	hub      *hub.Hub
	resolver TokenResolver
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// NewServer creates a stream server. Pass a CachedResolver so token lookups
// stay off the database; the same resolver instance should back every stream
// transport.
func NewServer(h *hub.Hub, resolver TokenResolver, logger logging.Logger, m *metrics.Metrics) *Server {
	return &Server{
		hub:      h,
		resolver: resolver,
		logger:   logger,
		metrics:  m,
	}
}

// HandleSSE serves GET /stream?token=<opaque> as a text/event-stream
func (s *Server) HandleSSE(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token parameter is required"})
		return
	}

	tenantID, err := s.resolver.ResolveTenantByPublicToken(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown token"})
			return
		}
		s.logger.WithError(err).Error("Token resolution failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token resolution failed"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Tell nginx-style intermediaries not to buffer the stream
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	send := make(chan models.Event, sendBuffer)
	sub := s.hub.Subscribe(tenantID, func(ev models.Event) {
		select {
		case send <- ev:
		default:
			if s.metrics != nil {
				s.metrics.DroppedFrames.WithLabelValues("sse").Inc()
			}
		}
	})
	// Cleanup must run no matter how the connection ends; Close is
	// idempotent so racing paths are safe.
	defer sub.Close()

	if s.metrics != nil {
		s.metrics.StreamConnections.WithLabelValues("sse").Inc()
		defer s.metrics.StreamConnections.WithLabelValues("sse").Dec()
	}

	s.logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"transport": "sse",
	}).Info("Stream client connected")

	// The hello frame confirms token resolution to the client before any
	// real event shows up, which may be arbitrarily later.
	if err := writeEventFrame(c.Writer, flusher, models.NewHelloEvent(tenantID)); err != nil {
		return
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.WithFields(logging.Fields{
				"tenant_id": tenantID,
				"transport": "sse",
			}).Info("Stream client disconnected")
			return

		case ev := <-send:
			if err := writeEventFrame(c.Writer, flusher, ev); err != nil {
				return
			}
			if s.metrics != nil {
				s.metrics.DeliveryLag.WithLabelValues("sse").Observe(time.Since(ev.TS).Seconds())
			}

		case <-keepalive.C:
			if _, err := fmt.Fprintf(c.Writer, ": ping %d\n\n", time.Now().Unix()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEventFrame(w http.ResponseWriter, flusher http.Flusher, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
