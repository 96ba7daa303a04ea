package meter

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"testing"

	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/hub"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/store"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/models"
)

type staticResolver map[string]string

func (r staticResolver) ResolveTenantByBroadcasterID(_ context.Context, broadcasterID string) (string, error) {
	if id, ok := r[broadcasterID]; ok {
		return id, nil
	}
	return "", store.ErrNotFound
}

func newTestEngine() (*Engine, *hub.Hub) {
	logger, _ := logrustest.NewNullLogger()
	h := hub.NewHub(logger, nil)
	return NewEngine(h, staticResolver{"12345": "streamer-1"}, logger), h
}

func TestProcessPublishesMetersSnapshot(t *testing.T) {
	engine, h := newTestEngine()

	var got []models.Event
	sub := h.Subscribe("streamer-1", func(ev models.Event) { got = append(got, ev) })
	defer sub.Close()

	event := json.RawMessage(`{"broadcaster_user_id":"12345","user_id":"u1","bits":300}`)
	if err := engine.Process(context.Background(), "channel.cheer", event); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(got))
	}
	if got[0].Type != models.EventTypeMeters {
		t.Fatalf("expected meters event, got %s", got[0].Type)
	}

	var payload models.MetersPayload
	if err := json.Unmarshal(got[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Factions) != 1 || payload.Factions[0].Meter != 3 {
		t.Fatalf("expected one faction at 3 points, got %+v", payload.Factions)
	}
}

func TestProcessAccumulates(t *testing.T) {
	engine, _ := newTestEngine()

	sub := json.RawMessage(`{"broadcaster_user_id":"12345","user_id":"u1"}`)
	for i := 0; i < 3; i++ {
		if err := engine.Process(context.Background(), "channel.subscribe", sub); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	snapshot := engine.Snapshot("streamer-1")
	total := 0.0
	for _, f := range snapshot {
		total += f.Meter
	}
	if total != 3 {
		t.Fatalf("expected total 3, got %v", total)
	}
}

func TestProcessDropsUnknownBroadcaster(t *testing.T) {
	engine, h := newTestEngine()

	published := 0
	subh := h.Subscribe("streamer-1", func(models.Event) { published++ })
	defer subh.Close()

	event := json.RawMessage(`{"broadcaster_user_id":"99999","user_id":"u1","bits":100}`)
	if err := engine.Process(context.Background(), "channel.cheer", event); err != nil {
		t.Fatalf("unknown broadcaster should not error: %v", err)
	}
	if published != 0 {
		t.Fatalf("expected no publish for unknown broadcaster")
	}
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	engine, _ := newTestEngine()

	if err := engine.Process(context.Background(), "channel.cheer", json.RawMessage(`{nope`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestAssignFactionIsStable(t *testing.T) {
	first := assignFaction("user-42", defaultFactions)
	for i := 0; i < 10; i++ {
		if got := assignFaction("user-42", defaultFactions); got != first {
			t.Fatalf("assignment not stable: %s vs %s", got, first)
		}
	}
}

func TestResetClearsMeters(t *testing.T) {
	engine, _ := newTestEngine()

	event := json.RawMessage(`{"broadcaster_user_id":"12345","user_id":"u1","bits":100}`)
	_ = engine.Process(context.Background(), "channel.cheer", event)

	engine.Reset("streamer-1")
	if snapshot := engine.Snapshot("streamer-1"); len(snapshot) != 0 {
		t.Fatalf("expected empty snapshot after reset, got %+v", snapshot)
	}
}

func TestAssignFactionHandlesHighHashValues(t *testing.T) {
	// Find a user id whose hash exceeds MaxInt32; index reduction must stay
	// in uint32 space or it goes negative on 32-bit ints.
	var userID string
	for i := 0; i < 10000; i++ {
		candidate := fmt.Sprintf("user-%d", i)
		h := fnv.New32a()
		h.Write([]byte(candidate))
		if h.Sum32() > math.MaxInt32 {
			userID = candidate
			break
		}
	}
	if userID == "" {
		t.Fatalf("no candidate id hashed above MaxInt32")
	}

	got := assignFaction(userID, defaultFactions)
	for _, f := range defaultFactions {
		if got == f {
			return
		}
	}
	t.Fatalf("assignFaction returned %q, not a member of %v", got, defaultFactions)
}
