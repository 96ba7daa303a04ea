package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/clients"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/clients/helix"
)

// fakeProvider mimics the Helix token and eventsub endpoints in memory
type fakeProvider struct {
	mu         sync.Mutex
	subs       []helix.Subscription
	tokenCalls int
	listCalls  int
	alwaysPage bool
	failCreate map[string]bool
	nextID     int
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenCalls++
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "app-token",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	})

	mux.HandleFunc("/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			f.listCalls++
			page := map[string]interface{}{
				"data":  f.subs,
				"total": len(f.subs),
			}
			if f.alwaysPage {
				page["pagination"] = map[string]string{"cursor": "more"}
			} else {
				page["pagination"] = map[string]string{}
			}
			_ = json.NewEncoder(w).Encode(page)

		case http.MethodPost:
			var req helix.CreateSubscriptionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if f.failCreate[req.Type] {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"Bad Request","message":"condition rejected"}`)
				return
			}
			f.nextID++
			sub := helix.Subscription{
				ID:        fmt.Sprintf("sub-%d", f.nextID),
				Type:      req.Type,
				Version:   req.Version,
				Status:    "enabled",
				Condition: req.Condition,
				Transport: helix.Transport{Method: "webhook", Callback: req.Transport.Callback},
			}
			f.subs = append(f.subs, sub)
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []helix.Subscription{sub}})

		case http.MethodDelete:
			id := r.URL.Query().Get("id")
			for i, sub := range f.subs {
				if sub.ID == id {
					f.subs = append(f.subs[:i], f.subs[i+1:]...)
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
		}
	})

	return mux
}

func newTestReconciler(t *testing.T, provider *fakeProvider) (*Reconciler, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)

	noRetry := clients.RetryConfig{MaxRetries: 0, RetryFunc: func(*http.Response, error) bool { return false }}
	logger, _ := logrustest.NewNullLogger()
	client := helix.NewClient(helix.Config{
		APIBaseURL:   srv.URL,
		AuthURL:      srv.URL + "/oauth2/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Logger:       logger,
		RetryConfig:  &noRetry,
	})

	rec, err := NewReconciler(client, "https://overlay.example.com", "webhook-secret", logger)
	if err != nil {
		t.Fatalf("failed to build reconciler: %v", err)
	}
	return rec, srv
}

func testTenant() Tenant {
	return Tenant{
		StreamerID:        "streamer-1",
		BroadcasterUserID: "12345",
		GrantedScopes:     []string{"bits:read", "channel:read:subscriptions"},
	}
}

func TestEnsureSubscriptionsCreatesMissing(t *testing.T) {
	provider := &fakeProvider{}
	rec, _ := newTestReconciler(t, provider)

	result, err := rec.EnsureSubscriptions(context.Background(), testTenant(), []string{"channel.cheer", "channel.subscribe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Created) != 2 || len(result.Skipped) != 0 {
		t.Fatalf("expected 2 created / 0 skipped, got %d/%d", len(result.Created), len(result.Skipped))
	}
	if result.Created[0].Transport.Callback != "https://overlay.example.com/webhooks/twitch" {
		t.Fatalf("unexpected callback %q", result.Created[0].Transport.Callback)
	}
}

func TestEnsureSubscriptionsIsIdempotent(t *testing.T) {
	provider := &fakeProvider{}
	rec, _ := newTestReconciler(t, provider)
	desired := []string{"channel.cheer", "channel.subscribe"}

	if _, err := rec.EnsureSubscriptions(context.Background(), testTenant(), desired); err != nil {
		t.Fatalf("first run: %v", err)
	}

	result, err := rec.EnsureSubscriptions(context.Background(), testTenant(), desired)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(result.Created) != 0 {
		t.Fatalf("second run expected 0 created, got %d", len(result.Created))
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("second run expected 2 skipped, got %d", len(result.Skipped))
	}
}

func TestEnsureSubscriptionsScopeCheckBeforeNetwork(t *testing.T) {
	provider := &fakeProvider{}
	rec, _ := newTestReconciler(t, provider)

	tenant := testTenant()
	tenant.GrantedScopes = nil

	_, err := rec.EnsureSubscriptions(context.Background(), tenant, []string{"channel.cheer"})

	var scopeErr *ScopeError
	if !errors.As(err, &scopeErr) {
		t.Fatalf("expected ScopeError, got %v", err)
	}
	if provider.tokenCalls != 0 || provider.listCalls != 0 {
		t.Fatalf("expected no provider calls, got token=%d list=%d", provider.tokenCalls, provider.listCalls)
	}
}

func TestEnsureSubscriptionsPartialFailure(t *testing.T) {
	provider := &fakeProvider{failCreate: map[string]bool{"channel.subscribe": true}}
	rec, _ := newTestReconciler(t, provider)

	result, err := rec.EnsureSubscriptions(context.Background(), testTenant(), []string{"channel.cheer", "channel.subscribe", "stream.online"})
	if err == nil {
		t.Fatal("expected error for failed type")
	}

	var apiErr *helix.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError with provider body, got %v", err)
	}
	if apiErr.Body == "" {
		t.Fatal("expected provider response body attached")
	}

	// Other types still processed
	if len(result.Created) != 2 {
		t.Fatalf("expected 2 created despite failure, got %d", len(result.Created))
	}
}

func TestListSubscriptionsStopsAtPageCap(t *testing.T) {
	provider := &fakeProvider{alwaysPage: true}
	rec, _ := newTestReconciler(t, provider)

	if _, err := rec.ListSubscriptions(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.listCalls != maxSubscriptionPages {
		t.Fatalf("expected exactly %d list calls, got %d", maxSubscriptionPages, provider.listCalls)
	}
}

func TestDeleteSubscription(t *testing.T) {
	provider := &fakeProvider{}
	rec, _ := newTestReconciler(t, provider)

	result, err := rec.EnsureSubscriptions(context.Background(), testTenant(), []string{"channel.cheer"})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if err := rec.DeleteSubscription(context.Background(), result.Created[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(provider.subs) != 0 {
		t.Fatalf("expected provider registry empty, got %d", len(provider.subs))
	}
}

func TestNewReconcilerRejectsPlainHTTP(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	if _, err := NewReconciler(nil, "http://overlay.example.com", "secret", logger); err == nil {
		t.Fatal("expected configuration error for http base URL")
	}
}
