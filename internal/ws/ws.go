package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/hub"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/metrics"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/store"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TokenResolver maps an opaque overlay token to a streamer id
type TokenResolver interface {
	ResolveTenantByPublicToken(ctx context.Context, token string) (string, error)
}

// Server serves the WebSocket variant of the overlay stream for dashboard
// pages that prefer a bidirectional transport.
type Server struct {
	hub      *hub.Hub
	resolver TokenResolver
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// NewServer creates a WebSocket stream server
func NewServer(h *hub.Hub, resolver TokenResolver, logger logging.Logger, m *metrics.Metrics) *Server {
	return &Server{
		hub:      h,
		resolver: resolver,
		logger:   logger,
		metrics:  m,
	}
}

// HandleWS serves GET /ws?token=<opaque>. Token resolution happens before
// the upgrade so auth failures come back as plain HTTP statuses.
func (s *Server) HandleWS(c *gin.Context) {
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

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &client{
		conn:     conn,
		send:     make(chan []byte, 64),
		tenantID: tenantID,
		logger:   s.logger,
	}

	sub := s.hub.Subscribe(tenantID, func(ev models.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case client.send <- data:
		default:
			if s.metrics != nil {
				s.metrics.DroppedFrames.WithLabelValues("ws").Inc()
			}
		}
	})

	if s.metrics != nil {
		s.metrics.StreamConnections.WithLabelValues("ws").Inc()
	}

	s.logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"transport": "ws",
	}).Info("Stream client connected")

	// Hello frame first, same contract as the SSE transport
	if data, err := json.Marshal(models.NewHelloEvent(tenantID)); err == nil {
		client.send <- data
	}

	go client.writePump()
	go client.readPump(func() {
		sub.Close()
		if s.metrics != nil {
			s.metrics.StreamConnections.WithLabelValues("ws").Dec()
		}
	})
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	tenantID string
	logger   logging.Logger
}

// readPump discards inbound messages; it exists to detect disconnects and
// answer pings. onClose runs exactly once when the connection dies.
func (c *client) readPump(onClose func()) {
	defer func() {
		onClose()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Debug("WebSocket connection error")
			}
			return
		}
	}
}

// writePump pumps events from the hub subscription to the connection
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
