// internal/registry/cache.go
package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

const (
	activeSetKey = "subs:active"
	activeSetTTL = 60 * time.Second
)

// CachedRegistry layers a Redis cache over the Postgres store for the
// broadcast case. Only the empty-selector snapshot is cached; filtered
// selections always hit Postgres. Cache failures degrade to the store,
// they never fail a dispatch.
type CachedRegistry struct {
	*PostgresRegistry
	rdb *redis.Client
	log logger.Logger
}

func NewCached(store *PostgresRegistry, rdb *redis.Client, log logger.Logger) *CachedRegistry {
	return &CachedRegistry{PostgresRegistry: store, rdb: rdb, log: log}
}

func (r *CachedRegistry) FindActiveBySelector(ctx context.Context, sel models.Selector) ([]models.Subscriber, error) {
	if !sel.IsEmpty() {
		return r.PostgresRegistry.FindActiveBySelector(ctx, sel)
	}

	cached, err := r.rdb.Get(ctx, activeSetKey).Bytes()
	if err == nil {
		var subscribers []models.Subscriber
		if err := json.Unmarshal(cached, &subscribers); err == nil {
			return subscribers, nil
		}
		// corrupt entry, fall through and rebuild
		r.rdb.Del(ctx, activeSetKey)
	} else if err != redis.Nil {
		r.log.Warn("active set cache read failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	subscribers, err := r.PostgresRegistry.FindActiveBySelector(ctx, sel)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(subscribers); err == nil {
		if err := r.rdb.Set(ctx, activeSetKey, encoded, activeSetTTL).Err(); err != nil {
			r.log.Warn("active set cache write failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return subscribers, nil
}

// Membership-changing writes drop the cached snapshot. TouchLastNotified
// is deliberately not intercepted; it does not change who is active.

func (r *CachedRegistry) SetStatus(ctx context.Context, id, status string) error {
	if err := r.PostgresRegistry.SetStatus(ctx, id, status); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedRegistry) Upsert(ctx context.Context, reg Registration) (string, error) {
	id, err := r.PostgresRegistry.Upsert(ctx, reg)
	if err != nil {
		return "", err
	}
	r.invalidate(ctx)
	return id, nil
}

func (r *CachedRegistry) Unsubscribe(ctx context.Context, endpoint string) error {
	if err := r.PostgresRegistry.Unsubscribe(ctx, endpoint); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedRegistry) invalidate(ctx context.Context) {
	if err := r.rdb.Del(ctx, activeSetKey).Err(); err != nil {
		r.log.Warn("active set cache invalidation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
