// Package enrichment computes and persists the key/value data attached to
// alerts after ingestion, and overlays persisted data back onto alerts.
package enrichment

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/apperr"
	"github.com/emirozbir/alertflow/internal/metrics"
)

// Instruction describes one enrichment: a literal value, or a value that
// starts with "results." and is resolved against a provider result.
type Instruction struct {
	Key   string `json:"key" mapstructure:"key" binding:"required"`
	Value string `json:"value" mapstructure:"value"`
}

// Record is the persisted enrichment set of one fingerprint.
type Record struct {
	Fingerprint string         `json:"alert_fingerprint"`
	Enrichments map[string]any `json:"enrichments"`
}

// Store persists enrichments by tenant and fingerprint.
type Store interface {
	// EnrichAlert merges fields into the enrichments of fingerprint.
	EnrichAlert(ctx context.Context, tenantID, fingerprint string, fields map[string]any) error
	// GetEnrichments returns the records that exist for the given fingerprints.
	GetEnrichments(ctx context.Context, tenantID string, fingerprints []string) ([]Record, error)
}

// ComputeFields resolves instructions into the flat map to persist. An
// instruction whose path cannot be resolved is logged and skipped.
func ComputeFields(instructions []Instruction, results any, logger *zap.Logger, m *metrics.Metrics) map[string]any {
	if logger == nil {
		logger = zap.NewNop()
	}

	fields := make(map[string]any, len(instructions))
	for _, in := range instructions {
		path, isPath := strings.CutPrefix(in.Value, ResultsPrefix)
		if !isPath {
			fields[in.Key] = in.Value
			continue
		}
		val, err := Lookup(results, path)
		if err != nil {
			logger.Error("failed to enrich alert",
				zap.String("key", in.Key),
				zap.String("value", in.Value),
				zap.Error(err))
			m.InstructionSkipped()
			continue
		}
		fields[in.Key] = val
	}
	return fields
}

// Enricher applies enrichment instructions and persists the outcome.
type Enricher struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewEnricher(store Store, logger *zap.Logger, m *metrics.Metrics) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{store: store, logger: logger, metrics: m}
}

// Enrich computes the fields for instructions against results and stores
// them under fingerprint. It returns the fields that were persisted.
func (e *Enricher) Enrich(ctx context.Context, tenantID, fingerprint string, instructions []Instruction, results any) (map[string]any, error) {
	if fingerprint == "" {
		e.logger.Error("no fingerprint found for alert enrichment", zap.String("tenant_id", tenantID))
		return nil, apperr.ErrMissingFingerprint
	}

	fields := ComputeFields(instructions, results, e.logger.With(zap.String("fingerprint", fingerprint)), e.metrics)

	e.logger.Info("enriching alert", zap.String("fingerprint", fingerprint), zap.Int("fields", len(fields)))
	if err := e.store.EnrichAlert(ctx, tenantID, fingerprint, fields); err != nil {
		e.logger.Error("failed to enrich alert in db",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		e.metrics.EnrichmentFailed()
		return nil, apperr.New(apperr.CodeStorage, "failed to persist enrichment", err)
	}
	e.metrics.EnrichmentStored()
	e.logger.Info("alert enriched", zap.String("fingerprint", fingerprint))
	return fields, nil
}
