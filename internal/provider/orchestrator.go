package provider

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/apperr"
	"github.com/emirozbir/alertflow/internal/enrichment"
	"github.com/emirozbir/alertflow/internal/models"
)

// Grouper groups alerts by fingerprint and overlays persisted enrichments.
// A nil Store skips the overlay.
type Grouper struct {
	Store      enrichment.Store
	Logger     *zap.Logger
	Tracer     trace.Tracer
	SpanPrefix string
}

// GroupAndEnrich groups alerts with a default Grouper.
func GroupAndEnrich(ctx context.Context, alerts []*models.Alert, tenantID string, store enrichment.Store) (map[string][]*models.Alert, error) {
	return Grouper{Store: store}.GroupAndEnrich(ctx, alerts, tenantID)
}

// GroupAndEnrich returns alerts keyed by fingerprint. Within a group alerts
// are ordered by lastReceived, oldest first. The store is read once for all
// fingerprints, and not at all when there are no alerts.
func (g Grouper) GroupAndEnrich(ctx context.Context, alerts []*models.Alert, tenantID string) (map[string][]*models.Alert, error) {
	logger := g.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := g.Tracer
	if t == nil {
		t = tracer
	}
	prefix := g.SpanPrefix
	if prefix == "" {
		prefix = "provider"
	}

	grouped := make(map[string][]*models.Alert)
	if len(alerts) == 0 {
		return grouped, nil
	}

	_, span := t.Start(ctx, prefix+"-get_last_alerts")
	sorted := make([]*models.Alert, len(alerts))
	copy(sorted, alerts)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].LastReceived.Before(sorted[b].LastReceived)
	})
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Fingerprint < sorted[b].Fingerprint
	})

	fingerprints := make([]string, 0, len(sorted))
	for _, a := range sorted {
		if _, ok := grouped[a.Fingerprint]; !ok {
			fingerprints = append(fingerprints, a.Fingerprint)
		}
		grouped[a.Fingerprint] = append(grouped[a.Fingerprint], a)
	}
	span.SetAttributes(attribute.Int("alerts.count", len(alerts)), attribute.Int("groups.count", len(grouped)))
	span.End()

	if g.Store == nil {
		return grouped, nil
	}

	ctx, span = t.Start(ctx, prefix+"-enrich_alerts", trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	records, err := g.Store.GetEnrichments(ctx, tenantID, fingerprints)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, apperr.New(apperr.CodeStorage, "failed to load enrichments", err)
	}

	for _, rec := range records {
		group, ok := grouped[rec.Fingerprint]
		if !ok {
			continue
		}
		for _, a := range group {
			overlay(a, rec.Enrichments, logger)
		}
	}
	span.SetAttributes(attribute.Int("enrichments.count", len(records)))
	return grouped, nil
}

func overlay(alert *models.Alert, enrichments map[string]any, logger *zap.Logger) {
	rest := enrichment.Reconcile(alert, enrichments)
	keys := make([]string, 0, len(rest))
	for k := range rest {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := alert.Set(k, rest[k]); err != nil {
			logger.Warn("failed to apply enrichment",
				zap.String("fingerprint", alert.Fingerprint),
				zap.String("key", k),
				zap.String("value", fmt.Sprint(rest[k])),
				zap.Error(err))
		}
	}
}
