package provider

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/apperr"
	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/delivery"
	"github.com/emirozbir/alertflow/internal/enrichment"
	"github.com/emirozbir/alertflow/internal/fingerprint"
	"github.com/emirozbir/alertflow/internal/metrics"
	"github.com/emirozbir/alertflow/internal/models"
	"github.com/emirozbir/alertflow/internal/normalize"
)

const placeholderStatus = "should be implemented by the provider if it has a consumer"

var tracer = otel.Tracer("github.com/emirozbir/alertflow/internal/provider")

// Instance is a configured provider bound to an execution context.
type Instance struct {
	ID                string
	Type              string
	Config            config.ProviderConfig
	FingerprintFields []string

	impl     Provider
	reg      *Registration
	exec     *ExecContext
	logger   *zap.Logger
	store    enrichment.Store
	pusher   delivery.Pusher
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	enricher *enrichment.Enricher
	results  []any
}

// Option configures an Instance.
type Option func(*Instance)

// WithStore sets the enrichment store used by enrich and grouping.
func WithStore(store enrichment.Store) Option {
	return func(i *Instance) { i.store = store }
}

// WithPusher sets the delivery client used by PushAlert.
func WithPusher(p delivery.Pusher) Option {
	return func(i *Instance) { i.pusher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Instance) { i.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(i *Instance) { i.tracer = t }
}

// New builds and validates the provider described by cfg.
func New(exec *ExecContext, cfg config.ProviderConfig, opts ...Option) (*Instance, error) {
	if exec == nil {
		exec = NewExecContext("", "", nil)
	}
	reg, err := Lookup(cfg.Type)
	if err != nil {
		return nil, err
	}

	logger := exec.Logger.With(zap.String("provider_id", cfg.ID), zap.String("provider_type", reg.Type))
	impl, err := reg.construct(cfg, logger)
	if err != nil {
		return nil, apperr.New(apperr.CodeConfig, fmt.Sprintf("failed to create provider %s", cfg.ID), err)
	}
	if err := impl.ValidateConfig(); err != nil {
		return nil, apperr.New(apperr.CodeConfig, fmt.Sprintf("invalid config for provider %s", cfg.ID), err)
	}

	fields := cfg.FingerprintFields
	if len(fields) == 0 {
		fields = reg.FingerprintFields
	}

	i := &Instance{
		ID:                cfg.ID,
		Type:              reg.Type,
		Config:            cfg,
		FingerprintFields: fields,
		impl:              impl,
		reg:               reg,
		exec:              exec,
		logger:            logger,
		tracer:            tracer,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.store != nil {
		i.enricher = enrichment.NewEnricher(i.store, logger, i.metrics)
	}
	return i, nil
}

// Provider returns the underlying implementation.
func (i *Instance) Provider() Provider { return i.impl }

// Registration returns the type registration of the instance.
func (i *Instance) Registration() *Registration { return i.reg }

// Results returns the results of every query and notify call so far.
func (i *Instance) Results() []any { return i.results }

func (i *Instance) Dispose() error {
	return i.impl.Dispose()
}

// ValidateScopes reports which declared scopes are granted. Providers
// without scope validation return an empty map.
func (i *Instance) ValidateScopes(ctx context.Context) map[string]ScopeResult {
	if v, ok := i.impl.(ScopeValidator); ok {
		return v.ValidateScopes(ctx)
	}
	return map[string]ScopeResult{}
}

// Query runs the provider query and, when instructions are given, enriches
// the alert the call is about.
func (i *Instance) Query(ctx context.Context, req Request) (any, error) {
	q, ok := i.impl.(Querier)
	if !ok {
		return nil, apperr.New(apperr.CodeNotImplemented, fmt.Sprintf("%s does not implement query", i.Type), nil)
	}

	started := time.Now()
	results, err := q.Query(ctx, req.Params)
	i.metrics.ObserveCall(i.Type, "query", started, err)
	if err != nil {
		return nil, err
	}

	i.record(results)
	if len(req.EnrichAlert) > 0 {
		if err := i.enrich(ctx, req.EnrichAlert, results); err != nil {
			return results, err
		}
	}
	return results, nil
}

// Notify sends to the provider. Enrichment only happens when the provider
// returned a result.
func (i *Instance) Notify(ctx context.Context, req Request) (any, error) {
	n, ok := i.impl.(Notifier)
	if !ok {
		return nil, apperr.New(apperr.CodeNotImplemented, fmt.Sprintf("%s does not implement notify", i.Type), nil)
	}

	started := time.Now()
	results, err := n.Notify(ctx, req.Params)
	i.metrics.ObserveCall(i.Type, "notify", started, err)
	if err != nil {
		return nil, err
	}

	i.record(results)
	if len(req.EnrichAlert) > 0 && results != nil {
		if err := i.enrich(ctx, req.EnrichAlert, results); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (i *Instance) record(results any) {
	i.exec.Dependencies.Record(results)
	i.results = append(i.results, results)
}

func (i *Instance) enrich(ctx context.Context, instructions []enrichment.Instruction, results any) error {
	fp, err := enrichment.ResolveFingerprint(results, i.exec.Foreach, i.exec.Event)
	if err != nil {
		i.logger.Error("failed to resolve alert fingerprint for enrichment", zap.Error(err))
		return err
	}
	if i.enricher == nil {
		return apperr.New(apperr.CodeStorage, "no enrichment store configured", nil)
	}
	_, err = i.enricher.Enrich(ctx, i.exec.TenantID, fp, instructions, results)
	return err
}

// GetAlerts fetches the provider's current alerts and stamps each with the
// instance id. Alerts without a fingerprint get one from the instance
// fingerprint fields.
func (i *Instance) GetAlerts(ctx context.Context) ([]*models.Alert, error) {
	ctx, span := i.tracer.Start(ctx, i.Type+"-get_alerts", trace.WithAttributes(
		attribute.String("provider.id", i.ID),
		attribute.String("tenant.id", i.exec.TenantID),
	))
	defer span.End()

	f, ok := i.impl.(AlertFetcher)
	if !ok {
		err := apperr.New(apperr.CodeNotImplemented, fmt.Sprintf("%s does not implement get_alerts", i.Type), nil)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	started := time.Now()
	alerts, err := f.GetAlerts(ctx)
	i.metrics.ObserveCall(i.Type, "get_alerts", started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, a := range alerts {
		a.ProviderID = i.ID
		if a.Fingerprint == "" {
			a.Fingerprint = fingerprint.Truncate(i.Fingerprint(a))
		}
	}
	i.metrics.AlertsFetchedAdd(i.Type, len(alerts))
	span.SetAttributes(attribute.Int("alerts.count", len(alerts)))
	return alerts, nil
}

// GetAlertsByFingerprint fetches alerts and groups them by fingerprint with
// persisted enrichments overlaid.
func (i *Instance) GetAlertsByFingerprint(ctx context.Context, tenantID string) (map[string][]*models.Alert, error) {
	alerts, err := i.GetAlerts(ctx)
	if err != nil {
		return nil, err
	}
	g := Grouper{Store: i.store, Logger: i.logger, Tracer: i.tracer, SpanPrefix: i.Type}
	return g.GroupAndEnrich(ctx, alerts, tenantID)
}

// FormatAlert converts a webhook event using this instance's type.
func (i *Instance) FormatAlert(event map[string]any) ([]*models.Alert, error) {
	return FormatAlert(i.Type, event, i.impl)
}

// IsConsumer reports whether the instance ingests from a stream.
func (i *Instance) IsConsumer() bool {
	return i.reg.Capabilities.Consumer
}

// StartConsume blocks consuming until ctx is done. Non-consumers return
// immediately.
func (i *Instance) StartConsume(ctx context.Context) error {
	c, ok := i.impl.(Consumer)
	if !ok {
		return nil
	}
	i.logger.Info("starting consumer")
	return c.StartConsume(ctx, i)
}

// Status returns the consumer health, or a placeholder when the provider
// does not report one.
func (i *Instance) Status() Health {
	if s, ok := i.impl.(StatusReporter); ok {
		return s.Status()
	}
	return Health{Status: placeholderStatus}
}

// Expose returns provider data for the frontend, empty by default.
func (i *Instance) Expose() map[string]any {
	if e, ok := i.impl.(Exposer); ok {
		return e.Expose()
	}
	return map[string]any{}
}

// Fingerprint computes the fingerprint of alert with the instance fields.
func (i *Instance) Fingerprint(alert *models.Alert) string {
	return fingerprint.Compute(alert, i.FingerprintFields)
}

// SimulateAlert returns a sample payload for this instance's type.
func (i *Instance) SimulateAlert() (map[string]any, error) {
	return SimulateAlert(i.Type)
}

// PushAlert normalizes raw and delivers it to the event endpoint. Payloads
// that cannot be normalized are dropped with a warning. Delivery failures
// are logged and not retried.
func (i *Instance) PushAlert(ctx context.Context, raw any) {
	alert, err := normalize.Normalize(raw, i.Type)
	if err != nil {
		i.logger.Warn("dropping alert that is not a valid alert payload", zap.Error(err))
		i.metrics.AlertDropped()
		return
	}

	if i.pusher == nil {
		i.logger.Error("failed to push alert", zap.String("alert_id", alert.ID), zap.Error(fmt.Errorf("no delivery client configured")))
		i.metrics.AlertPushed(i.Type, fmt.Errorf("no delivery client"))
		return
	}

	err = i.pusher.Push(ctx, i.exec.APIKey, alert)
	i.metrics.AlertPushed(i.Type, err)
	if err != nil {
		i.logger.Error("failed to push alert", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}
	i.logger.Info("alert pushed", zap.String("alert_id", alert.ID), zap.String("event_id", alert.EventID))
}

// FormatAlert converts an inbound webhook event of providerType into alerts.
func FormatAlert(providerType string, event map[string]any, instance Provider) ([]*models.Alert, error) {
	reg, err := Lookup(providerType)
	if err != nil {
		return nil, err
	}
	if reg.Format == nil {
		return nil, apperr.New(apperr.CodeNotImplemented, fmt.Sprintf("%s does not implement format_alert", reg.Type), nil)
	}
	return reg.Format(event, instance)
}

// ParseEventRawBody applies the type's raw body parser, if any.
func ParseEventRawBody(providerType string, body []byte) ([]byte, error) {
	reg, err := Lookup(providerType)
	if err != nil {
		return nil, err
	}
	if reg.ParseRawBody == nil {
		return body, nil
	}
	return reg.ParseRawBody(body)
}
