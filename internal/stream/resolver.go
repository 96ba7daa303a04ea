package stream

import (
	"context"
	"errors"
	"time"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/store"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/cache"
)

// CachedResolver fronts token resolution with a short TTL cache so overlay
// reconnect storms do not hammer the database. One instance is shared by
// every stream transport; unknown tokens are cached negatively for a shorter
// window so a streamer fixing their overlay URL is not locked out long.
type CachedResolver struct {
	resolver TokenResolver
	cache    *cache.Cache
}

// NewCachedResolver wraps a resolver with a 30 s positive / 5 s negative
// TTL cache
func NewCachedResolver(resolver TokenResolver) *CachedResolver {
	return &CachedResolver{
		resolver: resolver,
		cache:    cache.New(cache.Options{TTL: 30 * time.Second, NegativeTTL: 5 * time.Second}),
	}
}

// ResolveTenantByPublicToken maps a token to a streamer id through the cache
func (r *CachedResolver) ResolveTenantByPublicToken(ctx context.Context, token string) (string, error) {
	val, ok, err := r.cache.Get(ctx, token, func(ctx context.Context, key string) (interface{}, bool, error) {
		tenantID, err := r.resolver.ResolveTenantByPublicToken(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return tenantID, true, nil
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", store.ErrNotFound
	}
	return val.(string), nil
}
