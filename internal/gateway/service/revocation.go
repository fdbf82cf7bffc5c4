package service

import (
	"context"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/store"
	gocache "github.com/patrickmn/go-cache"
)

// RevocationCache fronts the revoked-jti table with an in-process cache so
// the authentication hot path never touches the store. Writes go to both;
// Warm reloads the cache from the store after a restart.
type RevocationCache struct {
	store store.Store
	cache *gocache.Cache
}

func NewRevocationCache(st store.Store) *RevocationCache {
	return &RevocationCache{
		store: st,
		cache: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// Revoke records a jti as revoked until the token's own expiry.
func (r *RevocationCache) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	now := time.Now().UTC()
	err := r.store.RevokedAccessTokens().RevokeAccessToken(ctx, domain.RevokedAccessToken{
		JTI:       jti,
		ExpiresAt: expiresAt,
		RevokedAt: now,
	})
	if err != nil {
		return err
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil // already expired, nothing to cache
	}
	r.cache.Set(jti, struct{}{}, ttl)
	return nil
}

// IsRevoked implements httpx.RevocationChecker from the cache alone.
func (r *RevocationCache) IsRevoked(jti string) bool {
	_, found := r.cache.Get(jti)
	return found
}

// Warm loads still-live revocations from the store into the cache. Called
// once at startup.
func (r *RevocationCache) Warm(ctx context.Context) error {
	now := time.Now().UTC()
	recs, err := r.store.RevokedAccessTokens().ListActiveRevocations(ctx, now)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if ttl := rec.ExpiresAt.Sub(now); ttl > 0 {
			r.cache.Set(rec.JTI, struct{}{}, ttl)
		}
	}
	return nil
}
