package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/store"
)

type countingResolver struct {
	calls  int32
	tokens map[string]string
}

func (r *countingResolver) ResolveTenantByPublicToken(_ context.Context, token string) (string, error) {
	atomic.AddInt32(&r.calls, 1)
	if tenantID, ok := r.tokens[token]; ok {
		return tenantID, nil
	}
	return "", store.ErrNotFound
}

func TestCachedResolverHitsBackendOnce(t *testing.T) {
	backend := &countingResolver{tokens: map[string]string{"token-a": "streamer-a"}}
	resolver := NewCachedResolver(backend)

	for i := 0; i < 5; i++ {
		tenantID, err := resolver.ResolveTenantByPublicToken(context.Background(), "token-a")
		if err != nil {
			t.Fatalf("lookup %d failed: %v", i, err)
		}
		if tenantID != "streamer-a" {
			t.Fatalf("lookup %d returned %q", i, tenantID)
		}
	}

	if calls := atomic.LoadInt32(&backend.calls); calls != 1 {
		t.Fatalf("expected 1 backend call for a warm token, got %d", calls)
	}
}

func TestCachedResolverCachesUnknownTokens(t *testing.T) {
	backend := &countingResolver{}
	resolver := NewCachedResolver(backend)

	for i := 0; i < 5; i++ {
		_, err := resolver.ResolveTenantByPublicToken(context.Background(), "bogus")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("lookup %d expected ErrNotFound, got %v", i, err)
		}
	}

	if calls := atomic.LoadInt32(&backend.calls); calls != 1 {
		t.Fatalf("expected unknown token cached, backend called %d times", calls)
	}
}
