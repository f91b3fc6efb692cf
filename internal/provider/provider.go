// Package provider defines the contract every alert-source integration
// satisfies, the registry of provider types and the per-instance behaviors
// shared by all of them.
package provider

import (
	"context"
	"encoding/json"

	"github.com/emirozbir/alertflow/internal/enrichment"
	"github.com/emirozbir/alertflow/internal/models"
)

// Provider is the minimum every provider type implements.
type Provider interface {
	// ValidateConfig checks the decoded authentication block.
	ValidateConfig() error
	// Dispose releases connections held by the provider.
	Dispose() error
}

// Querier pulls data from the provider.
type Querier interface {
	Query(ctx context.Context, params map[string]any) (any, error)
}

// Notifier pushes data to the provider.
type Notifier interface {
	Notify(ctx context.Context, params map[string]any) (any, error)
}

// AlertFetcher lists the alerts currently held by the provider.
type AlertFetcher interface {
	GetAlerts(ctx context.Context) ([]*models.Alert, error)
}

// ScopeValidator checks which of the declared scopes the credentials grant.
type ScopeValidator interface {
	ValidateScopes(ctx context.Context) map[string]ScopeResult
}

// AlertSink receives raw payloads from a consumer.
type AlertSink interface {
	PushAlert(ctx context.Context, raw any)
}

// Consumer is a provider that ingests alerts from a stream until ctx ends.
type Consumer interface {
	StartConsume(ctx context.Context, sink AlertSink) error
}

// StatusReporter reports consumer health.
type StatusReporter interface {
	Status() Health
}

// Exposer publishes provider-specific data to the frontend.
type Exposer interface {
	Expose() map[string]any
}

// FormatFunc converts an inbound webhook event into alerts. instance is nil
// when the event is not tied to a configured provider.
type FormatFunc func(event map[string]any, instance Provider) ([]*models.Alert, error)

// RawBodyParser rewrites a raw webhook body before it is decoded.
type RawBodyParser func(body []byte) ([]byte, error)

// Tag classifies a provider type.
type Tag string

const (
	TagAlert     Tag = "alert"
	TagTicketing Tag = "ticketing"
	TagMessaging Tag = "messaging"
	TagData      Tag = "data"
	TagQueue     Tag = "queue"
)

// Scope is a permission a provider may require.
type Scope struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Mandatory   bool   `json:"mandatory" yaml:"mandatory"`
	Alias       string `json:"alias,omitempty" yaml:"alias"`
}

// ScopeResult is the validation outcome of one scope. It serializes to
// true when valid and to the error text otherwise.
type ScopeResult struct {
	Valid bool
	Error string
}

func (r ScopeResult) MarshalJSON() ([]byte, error) {
	if r.Valid {
		return []byte("true"), nil
	}
	return json.Marshal(r.Error)
}

// Health is the status a consumer reports.
type Health struct {
	Status  string         `json:"status"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// Request carries the parameters of a query or notify call and the
// enrichments to derive from its result.
type Request struct {
	Params      map[string]any           `json:"with"`
	EnrichAlert []enrichment.Instruction `json:"enrich_alert,omitempty"`
}
