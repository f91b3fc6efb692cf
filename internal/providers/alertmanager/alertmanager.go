// Package alertmanager pulls alerts from the Prometheus AlertManager v2 API
// and converts AlertManager webhook notifications.
package alertmanager

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/models"
	"github.com/emirozbir/alertflow/internal/provider"
)

const Type = "alertmanager"

const scopeReadAlerts = "read_alerts"

//go:embed fixtures.yaml
var fixtures []byte

func init() {
	provider.MustRegister(provider.Registration{
		Type:              Type,
		DisplayName:       "Prometheus AlertManager",
		Tags:              []provider.Tag{provider.TagAlert},
		FingerprintFields: []string{"name", "labels"},
		Scopes: []provider.Scope{
			{Name: scopeReadAlerts, Description: "Read alerts from the v2 API", Mandatory: true},
		},
		Fixtures: provider.MustLoadFixtures(fixtures),
		Format:   FormatAlert,
	}, New)
}

type Authentication struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// ActiveOnly drops silenced and inhibited alerts from GetAlerts.
	ActiveOnly bool `mapstructure:"active_only"`
}

type Provider struct {
	auth   Authentication
	client *http.Client
	logger *zap.Logger
}

func New(cfg config.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	var auth Authentication
	if err := provider.DecodeAuthentication(cfg, &auth); err != nil {
		return nil, err
	}
	if auth.Timeout <= 0 {
		auth.Timeout = 10 * time.Second
	}
	auth.URL = strings.TrimSuffix(auth.URL, "/")

	return &Provider{
		auth: auth,
		client: &http.Client{
			Timeout: auth.Timeout,
		},
		logger: logger,
	}, nil
}

func (a *Provider) ValidateConfig() error {
	if a.auth.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(a.auth.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url %q", a.auth.URL)
	}
	return nil
}

func (a *Provider) Dispose() error {
	a.client.CloseIdleConnections()
	return nil
}

// ValidateScopes checks the v2 API is reachable with the configured URL.
func (a *Provider) ValidateScopes(ctx context.Context) map[string]provider.ScopeResult {
	if _, err := a.fetch(ctx); err != nil {
		return map[string]provider.ScopeResult{scopeReadAlerts: {Error: err.Error()}}
	}
	return map[string]provider.ScopeResult{scopeReadAlerts: {Valid: true}}
}

func (a *Provider) GetAlerts(ctx context.Context) ([]*models.Alert, error) {
	raw, err := a.fetch(ctx)
	if err != nil {
		return nil, err
	}

	alerts := make([]*models.Alert, 0, len(raw))
	for i := range raw {
		if a.auth.ActiveOnly && raw[i].Status.State != "active" {
			continue
		}
		alerts = append(alerts, toAlert(&raw[i]))
	}
	a.logger.Debug("fetched alertmanager alerts", zap.Int("count", len(alerts)))
	return alerts, nil
}

func (a *Provider) fetch(ctx context.Context) ([]models.AlertManagerAlert, error) {
	endpoint := fmt.Sprintf("%s/api/v2/alerts", a.auth.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch alerts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alertmanager returned status %d", resp.StatusCode)
	}

	var alerts []models.AlertManagerAlert
	if err := json.NewDecoder(resp.Body).Decode(&alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}
	return alerts, nil
}

// FormatAlert converts an AlertManager webhook notification into alerts.
func FormatAlert(event map[string]any, _ provider.Provider) ([]*models.Alert, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook: %w", err)
	}
	var webhook models.AlertManagerWebhook
	if err := json.Unmarshal(data, &webhook); err != nil {
		return nil, fmt.Errorf("failed to decode webhook: %w", err)
	}

	alerts := make([]*models.Alert, 0, len(webhook.Alerts))
	for i := range webhook.Alerts {
		alert := toAlert(&webhook.Alerts[i])
		if webhook.ExternalURL != "" && alert.URL == nil {
			u := webhook.ExternalURL
			alert.URL = &u
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func toAlert(am *models.AlertManagerAlert) *models.Alert {
	labels := make(map[string]any, len(am.Labels))
	for k, v := range am.Labels {
		labels[k] = v
	}

	received := am.UpdatedAt
	if received.IsZero() {
		received = am.StartsAt
	}
	if received.IsZero() {
		received = time.Now().UTC()
	}

	alert := &models.Alert{
		ID:           am.Fingerprint,
		EventID:      uuid.NewString(),
		Name:         am.GetAlertName(),
		Status:       statusOf(am),
		Severity:     severityOf(am.GetSeverity()),
		LastReceived: received,
		Environment:  firstLabel(am.Labels, "environment", "env", "cluster"),
		Service:      firstLabel(am.Labels, "service", "job"),
		Source:       []string{Type},
		Message:      am.Annotations["summary"],
		Description:  am.Annotations["description"],
		Labels:       labels,
		Fingerprint:  am.Fingerprint,
	}
	if alert.ID == "" {
		alert.ID = alert.EventID
	}
	if am.GeneratorURL != "" {
		u := am.GeneratorURL
		alert.URL = &u
	}
	if ns := am.GetNamespace(); ns != "" {
		alert.Extra = map[string]any{"namespace": ns}
	}
	return alert
}

func statusOf(am *models.AlertManagerAlert) models.AlertStatus {
	switch am.Status.State {
	case "resolved":
		return models.StatusResolved
	case "suppressed":
		return models.StatusSuppressed
	case "unprocessed":
		return models.StatusPending
	}
	return models.StatusFiring
}

func severityOf(s string) models.AlertSeverity {
	switch strings.ToLower(s) {
	case "critical", "page", "fatal":
		return models.SeverityCritical
	case "high", "error", "major":
		return models.SeverityHigh
	case "warning", "warn", "minor":
		return models.SeverityWarning
	case "low":
		return models.SeverityLow
	}
	return models.SeverityInfo
}

func firstLabel(labels map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := labels[k]; v != "" {
			return v
		}
	}
	return ""
}
