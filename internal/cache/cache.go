// Package cache keeps enrichment records in Redis in front of the
// persistent enrichment store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/enrichment"
	"github.com/emirozbir/alertflow/internal/metrics"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "alertflow:enrichments"

// absent marks a fingerprint known to have no enrichments.
const absent = "null"

// EnrichmentCache is a read-through, invalidate-on-write enrichment.Store.
// Redis failures degrade to the wrapped store.
type EnrichmentCache struct {
	next    enrichment.Store
	client  redis.Cmdable
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ enrichment.Store = (*EnrichmentCache)(nil)

// New wraps next with a cache held in client.
func New(next enrichment.Store, client redis.Cmdable, ttl time.Duration, logger *zap.Logger, m *metrics.Metrics) *EnrichmentCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrichmentCache{next: next, client: client, ttl: ttl, logger: logger, metrics: m}
}

func key(tenantID, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, tenantID, fingerprint)
}

// EnrichAlert writes through to the store and drops the cached record.
func (c *EnrichmentCache) EnrichAlert(ctx context.Context, tenantID, fingerprint string, fields map[string]any) error {
	if err := c.next.EnrichAlert(ctx, tenantID, fingerprint, fields); err != nil {
		return err
	}
	if err := c.client.Del(ctx, key(tenantID, fingerprint)).Err(); err != nil {
		c.logger.Warn("failed to invalidate cached enrichments",
			zap.String("tenant_id", tenantID),
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
	}
	return nil
}

// GetEnrichments serves cached records and loads the rest from the store
// with a single call. Records are returned in the order of fingerprints.
func (c *EnrichmentCache) GetEnrichments(ctx context.Context, tenantID string, fingerprints []string) ([]enrichment.Record, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}

	keys := make([]string, len(fingerprints))
	for i, fp := range fingerprints {
		keys[i] = key(tenantID, fp)
	}

	found := make(map[string]map[string]any, len(fingerprints))
	known := make(map[string]bool, len(fingerprints))

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("enrichment cache unavailable", zap.Error(err))
		values = nil
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s == absent {
			known[fingerprints[i]] = true
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(s), &fields); err != nil {
			continue
		}
		found[fingerprints[i]] = fields
		known[fingerprints[i]] = true
	}

	var misses []string
	for _, fp := range fingerprints {
		if !known[fp] {
			misses = append(misses, fp)
		}
	}
	c.metrics.CacheLookup(len(fingerprints)-len(misses), len(misses))

	if len(misses) > 0 {
		records, err := c.next.GetEnrichments(ctx, tenantID, misses)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			found[rec.Fingerprint] = rec.Enrichments
		}
		c.fill(ctx, tenantID, misses, found)
	}

	var out []enrichment.Record
	for _, fp := range fingerprints {
		if fields, ok := found[fp]; ok {
			out = append(out, enrichment.Record{Fingerprint: fp, Enrichments: fields})
		}
	}
	return out, nil
}

func (c *EnrichmentCache) fill(ctx context.Context, tenantID string, fingerprints []string, found map[string]map[string]any) {
	for _, fp := range fingerprints {
		value := absent
		if fields, ok := found[fp]; ok {
			data, err := json.Marshal(fields)
			if err != nil {
				continue
			}
			value = string(data)
		}
		if err := c.client.Set(ctx, key(tenantID, fp), value, c.ttl).Err(); err != nil {
			c.logger.Warn("failed to cache enrichments", zap.String("fingerprint", fp), zap.Error(err))
			return
		}
	}
}
