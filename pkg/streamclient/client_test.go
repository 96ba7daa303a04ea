package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/models"
)

func newTestClient(url string) *Client {
	logger, _ := logrustest.NewNullLogger()
	return New(Config{
		URL:            url,
		ReconnectDelay: 10 * time.Millisecond,
		Logger:         logger,
	})
}

func writeFrame(w http.ResponseWriter, ev models.Event) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
	w.(http.Flusher).Flush()
}

func waitEvent(t *testing.T, events <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return models.Event{}
	}
}

func TestClientForwardsEventsAndReplaysLast(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, models.NewHelloEvent("streamer-a"))
		writeFrame(w, models.NewMetersEvent("streamer-a", []models.Faction{{Key: "crimson", Meter: 5}}))
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL)
	events := make(chan models.Event, 8)
	unsub := client.OnEvent(func(ev models.Event) { events <- ev })
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Connect(ctx)

	if ev := waitEvent(t, events); ev.Type != models.EventTypeHello {
		t.Fatalf("expected hello first, got %q", ev.Type)
	}
	if ev := waitEvent(t, events); ev.Type != models.EventTypeMeters {
		t.Fatalf("expected meters, got %q", ev.Type)
	}

	// A handler registered after the fact gets the last real event right
	// away, not the hello frame.
	late := make(chan models.Event, 1)
	unsubLate := client.OnEvent(func(ev models.Event) { late <- ev })
	defer unsubLate()

	if ev := waitEvent(t, late); ev.Type != models.EventTypeMeters {
		t.Fatalf("late subscriber expected meters replay, got %q", ev.Type)
	}
}

func TestClientReconnectsWithoutReregistration(t *testing.T) {
	var connections int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&connections, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, models.NewMetersEvent("streamer-a", []models.Faction{{Key: "crimson", Meter: float64(n)}}))
		if n == 1 {
			// Drop the first connection to force a reconnect
			return
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL)
	events := make(chan models.Event, 8)
	unsub := client.OnEvent(func(ev models.Event) { events <- ev })
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Connect(ctx)

	waitEvent(t, events)
	waitEvent(t, events)

	if n := atomic.LoadInt32(&connections); n < 2 {
		t.Fatalf("expected a reconnect, saw %d connections", n)
	}
}

func TestClientDropsMalformedFrames(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message\ndata: {truncated\n\n")
		w.(http.Flusher).Flush()
		writeFrame(w, models.NewMetersEvent("streamer-a", []models.Faction{{Key: "crimson", Meter: 1}}))
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL)
	events := make(chan models.Event, 8)
	unsub := client.OnEvent(func(ev models.Event) { events <- ev })
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Connect(ctx)

	if ev := waitEvent(t, events); ev.Type != models.EventTypeMeters {
		t.Fatalf("expected the valid frame after the bad one, got %q", ev.Type)
	}
}

func TestSimulationSuppressesRealEventsThenRestores(t *testing.T) {
	client := newTestClient("http://unused.invalid")

	events := make(chan models.Event, 16)
	unsub := client.OnEvent(func(ev models.Event) { events <- ev })
	defer unsub()

	client.SetSimulation(true)
	defer client.SetSimulation(false)

	// Activation emits a synthetic frame immediately
	sim := waitEvent(t, events)
	if sim.Type != models.EventTypeMeters {
		t.Fatalf("expected synthetic meters frame, got %q", sim.Type)
	}

	// A real event arriving mid-simulation is cached, not forwarded
	real := models.NewMetersEvent("streamer-a", []models.Faction{{Key: "crimson", Meter: 99}})
	client.receive(real)

	select {
	case ev := <-events:
		if ev.StreamerID != "" {
			t.Fatalf("real event forwarded during simulation: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
	}

	client.SetSimulation(false)

	// Drain until the restored frame shows up; intervening ticks are
	// synthetic and carry no streamer id.
	for {
		ev := waitEvent(t, events)
		if ev.StreamerID == "" {
			continue
		}
		var payload models.MetersPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("failed to decode restored payload: %v", err)
		}
		if len(payload.Factions) != 1 || payload.Factions[0].Meter != 99 {
			t.Fatalf("expected the cached real event restored, got %+v", payload)
		}
		return
	}
}

func TestSimulationWithoutRealEventsRestoresEmptyState(t *testing.T) {
	client := newTestClient("http://unused.invalid")

	events := make(chan models.Event, 16)
	unsub := client.OnEvent(func(ev models.Event) { events <- ev })
	defer unsub()

	client.SetSimulation(true)
	waitEvent(t, events)
	client.SetSimulation(false)

	var last models.Event
	for drained := false; !drained; {
		select {
		case last = <-events:
		case <-time.After(100 * time.Millisecond):
			drained = true
		}
	}

	var payload models.MetersPayload
	if err := json.Unmarshal(last.Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(payload.Factions) != 0 {
		t.Fatalf("expected empty meters on deactivate with no real event, got %+v", payload)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	client := newTestClient("http://unused.invalid")

	var calls int32
	unsub := client.OnEvent(func(models.Event) { atomic.AddInt32(&calls, 1) })
	unsub()
	unsub()

	client.receive(models.NewMetersEvent("streamer-a", nil))
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("unsubscribed handler still invoked")
	}
}

func TestClientWithoutLoggerSurvivesReconnects(t *testing.T) {
	// No Logger in the config; the reconnect warning path must not panic
	client := New(Config{
		URL:            "http://127.0.0.1:1",
		ReconnectDelay: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	client.Connect(ctx)
}
