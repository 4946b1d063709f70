// Package cache shields external registry lookups behind a CNPJ-keyed
// response cache with lazy TTL expiry.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/segmenta/prospect-cli/internal/model"
)

// TTL is how long a cached registry payload stays fresh. Entries older than
// this are treated as absent; there is no background sweep.
const TTL = 30 * 24 * time.Hour

// Backing is the slice of the store the cache needs.
type Backing interface {
	GetCacheEntry(ctx context.Context, cnpj string) (*model.CacheEntry, error)
	SetCacheEntry(ctx context.Context, entry *model.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, cnpj string) error
	CacheStats(ctx context.Context) (*model.CacheStats, error)
}

// Cache is the response cache for tax-registry lookups. Store failures
// degrade to a miss so a cache outage never blocks the pipeline.
type Cache struct {
	backing Backing
	now     func() time.Time
}

// New creates a Cache over the given backing store.
func New(backing Backing) *Cache {
	return &Cache{backing: backing, now: time.Now}
}

// Get returns the cached payload for a normalized CNPJ. The second return
// is false on a miss, a malformed key, an expired entry, or a store error.
func (c *Cache) Get(ctx context.Context, cnpj string) (json.RawMessage, bool) {
	log := zap.L().With(zap.String("cnpj", cnpj))

	if model.NormalizeCNPJ(cnpj) != cnpj || cnpj == "" {
		log.Debug("cache: malformed key, treating as miss")
		return nil, false
	}

	entry, err := c.backing.GetCacheEntry(ctx, cnpj)
	if err != nil {
		log.Warn("cache: lookup failed, treating as miss", zap.Error(err))
		return nil, false
	}
	if entry == nil {
		log.Debug("cache: miss")
		return nil, false
	}
	if c.now().Sub(entry.UpdatedAt) > TTL {
		log.Info("cache: entry expired", zap.Time("updated_at", entry.UpdatedAt))
		return nil, false
	}

	log.Debug("cache: hit", zap.String("source", entry.Source))
	return entry.Payload, true
}

// Set upserts the payload for a normalized CNPJ, tagged with its source.
// Failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, cnpj string, payload json.RawMessage, source string) {
	log := zap.L().With(zap.String("cnpj", cnpj), zap.String("source", source))

	if model.NormalizeCNPJ(cnpj) != cnpj || cnpj == "" {
		log.Warn("cache: refusing to store malformed key")
		return
	}

	err := c.backing.SetCacheEntry(ctx, &model.CacheEntry{
		CNPJ:      cnpj,
		Payload:   payload,
		Source:    source,
		UpdatedAt: c.now().UTC(),
	})
	if err != nil {
		log.Warn("cache: set failed", zap.Error(err))
		return
	}
	log.Debug("cache: set")
}

// Invalidate removes the entry for a CNPJ.
func (c *Cache) Invalidate(ctx context.Context, cnpj string) error {
	return c.backing.DeleteCacheEntry(ctx, cnpj)
}

// Stats reports entry count and the oldest/newest update timestamps.
func (c *Cache) Stats(ctx context.Context) (*model.CacheStats, error) {
	return c.backing.CacheStats(ctx)
}
