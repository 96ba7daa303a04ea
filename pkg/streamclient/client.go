// Package streamclient consumes the overlay event stream. Overlay pages and
// preview tooling embed it instead of re-implementing reconnect and parsing
// per surface.
package streamclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/models"
)

const (
	// initialReconnectDelay and maxReconnectDelay bound the backoff between
	// stream connection attempts
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// simulationInterval is the cadence of synthetic meter frames in
	// simulation mode
	simulationInterval = 2 * time.Second
)

// simulationFactions are the synthetic teams shown while previewing
var simulationFactions = []string{"crimson", "azure"}

// Config holds stream client configuration
type Config struct {
	// URL is the full stream endpoint including the token query parameter,
	// e.g. https://overlay.example.com/stream?token=abc
	URL string

	// HTTPClient is optional; the default has no overall timeout because the
	// stream is long lived
	HTTPClient *http.Client

	// ReconnectDelay overrides the initial backoff between connection
	// attempts. Zero means the default.
	ReconnectDelay time.Duration

	Logger logging.Logger
}

// Handler receives events from the stream
type Handler func(models.Event)

// Client maintains a persistent connection to the overlay stream. Reconnects
// are transparent: handlers registered once keep receiving events across
// connection drops.
type Client struct {
	url            string
	httpClient     *http.Client
	logger         logging.Logger
	reconnectDelay time.Duration

	mu        sync.Mutex
	handlers  map[int]Handler
	nextID    int
	lastReal  *models.Event
	simActive bool
	simStop   chan struct{}
	simStep   int
}

// New creates a stream client
func New(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	reconnectDelay := config.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = initialReconnectDelay
	}
	logger := config.Logger
	if logger == nil {
		// Reconnects and dropped frames are logged; a caller that passes no
		// logger must not pay for that with a panic.
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Client{
		url:            config.URL,
		httpClient:     httpClient,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		handlers:       make(map[int]Handler),
	}
}

// OnEvent registers a handler. Late registrants immediately receive the most
// recent real event, so a freshly mounted overlay shows current state instead
// of waiting for the next delivery. The returned function unsubscribes and is
// safe to call more than once.
func (c *Client) OnEvent(handler Handler) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	replay := c.lastReal
	c.mu.Unlock()

	if replay != nil {
		handler(*replay)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

// Connect runs the stream read loop until ctx is cancelled, reconnecting
// with capped backoff on any connection failure or drop.
func (c *Client) Connect(ctx context.Context) {
	delay := c.reconnectDelay
	for {
		err := c.readStream(ctx)
		if ctx.Err() != nil {
			return
		}

		c.logger.WithError(err).WithField("retry_in", delay.String()).Warn("Stream connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) readStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream endpoint returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			// Keepalive comments and event-name lines carry no payload
			continue
		}

		var ev models.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			// One bad frame must not take down the consumer loop
			c.logger.WithError(err).Debug("Dropping malformed stream frame")
			continue
		}

		c.receive(ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return fmt.Errorf("stream closed by server")
}

// receive routes one real event. During simulation real events are cached so
// the overlay can snap back to live state when the preview ends, but they are
// not forwarded.
func (c *Client) receive(ev models.Event) {
	c.mu.Lock()
	if ev.Type != models.EventTypeHello {
		cached := ev
		c.lastReal = &cached
	}
	if c.simActive {
		c.mu.Unlock()
		return
	}
	handlers := c.snapshotHandlersLocked()
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(ev)
	}
}

// SetSimulation toggles preview mode. While active a local timer feeds
// oscillating synthetic meters to the handlers in place of real events.
// Deactivating immediately forwards the most recently cached real event, or
// an empty meters frame if none arrived, so the display never sticks on
// simulated data.
func (c *Client) SetSimulation(active bool) {
	c.mu.Lock()
	if active == c.simActive {
		c.mu.Unlock()
		return
	}
	c.simActive = active

	if active {
		stop := make(chan struct{})
		c.simStop = stop
		c.mu.Unlock()
		go c.runSimulation(stop)
		return
	}

	close(c.simStop)
	c.simStop = nil

	var resume models.Event
	if c.lastReal != nil {
		resume = *c.lastReal
	} else {
		resume = models.NewMetersEvent("", nil)
	}
	handlers := c.snapshotHandlersLocked()
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(resume)
	}
}

func (c *Client) runSimulation(stop chan struct{}) {
	ticker := time.NewTicker(simulationInterval)
	defer ticker.Stop()

	c.emitSimulatedFrame()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.emitSimulatedFrame()
		}
	}
}

func (c *Client) emitSimulatedFrame() {
	c.mu.Lock()
	if !c.simActive {
		c.mu.Unlock()
		return
	}
	step := c.simStep
	c.simStep++
	handlers := c.snapshotHandlersLocked()
	c.mu.Unlock()

	factions := make([]models.Faction, len(simulationFactions))
	for i, key := range simulationFactions {
		// Out-of-phase sine waves around a midpoint of 50
		phase := float64(step)/4 + float64(i)*math.Pi
		factions[i] = models.Faction{
			Key:   key,
			Meter: math.Round(50 + 40*math.Sin(phase)),
		}
	}
	ev := models.NewMetersEvent("", factions)

	for _, handler := range handlers {
		handler(ev)
	}
}

func (c *Client) snapshotHandlersLocked() []Handler {
	handlers := make([]Handler, 0, len(c.handlers))
	for _, handler := range c.handlers {
		handlers = append(handlers, handler)
	}
	return handlers
}
