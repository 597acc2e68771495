package scope

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
)

const (
	cacheKeyPrefix = "modelproof:scope:"

	// Terminal cycles never change scope, so the TTL only bounds memory,
	// not staleness.
	cacheTTL = 24 * time.Hour
)

// Cache holds resolved scopes of finished cycles in Redis. It is strictly
// best-effort: every failure degrades to a store read.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

func NewCache(client *redis.Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, logger: logger}
}

func (c *Cache) Get(ctx context.Context, cycleID id.CycleID) (*dmodels.ResolvedScope, bool) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+cycleID.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "scope cache read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	var scope dmodels.ResolvedScope
	if err := json.Unmarshal(raw, &scope); err != nil {
		c.logger.WarnContext(ctx, "scope cache entry corrupt", slog.String("error", err.Error()))
		return nil, false
	}
	return &scope, true
}

func (c *Cache) Set(ctx context.Context, scope *dmodels.ResolvedScope) {
	raw, err := json.Marshal(scope)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+scope.CycleID.String(), raw, cacheTTL).Err(); err != nil {
		c.logger.WarnContext(ctx, "scope cache write failed", slog.String("error", err.Error()))
	}
}
