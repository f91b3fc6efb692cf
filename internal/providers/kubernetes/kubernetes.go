// Package kubernetes turns Kubernetes events into alerts.
package kubernetes

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/models"
	"github.com/emirozbir/alertflow/internal/provider"
)

const Type = "kubernetes"

const scopeListEvents = "list_events"

//go:embed fixtures.yaml
var fixtures []byte

func init() {
	provider.MustRegister(provider.Registration{
		Type:              Type,
		DisplayName:       "Kubernetes",
		Tags:              []provider.Tag{provider.TagAlert},
		FingerprintFields: []string{"name", "environment", "service"},
		Scopes: []provider.Scope{
			{Name: scopeListEvents, Description: "List events in the watched namespace", Mandatory: true},
		},
		Fixtures: provider.MustLoadFixtures(fixtures),
	}, New)
}

type Authentication struct {
	Kubeconfig string        `mapstructure:"kubeconfig"`
	Context    string        `mapstructure:"context"`
	Namespace  string        `mapstructure:"namespace"`
	Lookback   time.Duration `mapstructure:"lookback"`
	EventTypes []string      `mapstructure:"event_types"`
}

type Provider struct {
	auth      Authentication
	clientset kubernetes.Interface
	logger    *zap.Logger
}

func New(cfg config.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	var auth Authentication
	if err := provider.DecodeAuthentication(cfg, &auth); err != nil {
		return nil, err
	}

	k8sConfig, err := restConfig(auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return NewWithClient(clientset, auth, logger), nil
}

// NewWithClient builds the provider around an existing clientset.
func NewWithClient(clientset kubernetes.Interface, auth Authentication, logger *zap.Logger) *Provider {
	if auth.Lookback <= 0 {
		auth.Lookback = time.Hour
	}
	if len(auth.EventTypes) == 0 {
		auth.EventTypes = []string{corev1.EventTypeWarning}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{auth: auth, clientset: clientset, logger: logger}
}

func restConfig(auth Authentication) (*rest.Config, error) {
	if auth.Kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", auth.Kubeconfig)
	}

	k8sConfig, err := rest.InClusterConfig()
	if err == nil {
		return k8sConfig, nil
	}

	// Fallback to default kubeconfig
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	if auth.Context != "" {
		overrides.CurrentContext = auth.Context
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}

func (k *Provider) ValidateConfig() error {
	for _, t := range k.auth.EventTypes {
		if t != corev1.EventTypeWarning && t != corev1.EventTypeNormal {
			return fmt.Errorf("unknown event type %q", t)
		}
	}
	return nil
}

func (k *Provider) Dispose() error {
	return nil
}

func (k *Provider) ValidateScopes(ctx context.Context) map[string]provider.ScopeResult {
	_, err := k.clientset.CoreV1().Events(k.auth.Namespace).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return map[string]provider.ScopeResult{scopeListEvents: {Error: err.Error()}}
	}
	return map[string]provider.ScopeResult{scopeListEvents: {Valid: true}}
}

// Expose reports what the provider watches.
func (k *Provider) Expose() map[string]any {
	namespace := k.auth.Namespace
	if namespace == "" {
		namespace = "*"
	}
	return map[string]any{
		"namespace":   namespace,
		"event_types": k.auth.EventTypes,
		"lookback":    k.auth.Lookback.String(),
	}
}

// GetAlerts returns one alert per recent event of the configured types.
func (k *Provider) GetAlerts(ctx context.Context) ([]*models.Alert, error) {
	eventList, err := k.clientset.CoreV1().Events(k.auth.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	cutoff := time.Now().Add(-k.auth.Lookback)
	var alerts []*models.Alert
	for i := range eventList.Items {
		event := &eventList.Items[i]
		if !k.typeMatches(event.Type) {
			continue
		}
		if eventTime(event).Before(cutoff) {
			continue
		}
		alerts = append(alerts, toAlert(event))
	}

	k.logger.Debug("collected kubernetes events",
		zap.String("namespace", k.auth.Namespace),
		zap.Int("events", len(eventList.Items)),
		zap.Int("alerts", len(alerts)))
	return alerts, nil
}

func (k *Provider) typeMatches(eventType string) bool {
	for _, t := range k.auth.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

func eventTime(event *corev1.Event) time.Time {
	switch {
	case !event.LastTimestamp.IsZero():
		return event.LastTimestamp.Time
	case !event.EventTime.IsZero():
		return event.EventTime.Time
	case !event.FirstTimestamp.IsZero():
		return event.FirstTimestamp.Time
	}
	return event.CreationTimestamp.Time
}

func toAlert(event *corev1.Event) *models.Alert {
	obj := event.InvolvedObject
	severity := models.SeverityInfo
	if event.Type == corev1.EventTypeWarning {
		severity = models.SeverityWarning
	}

	return &models.Alert{
		ID:           string(event.UID),
		EventID:      uuid.NewString(),
		Name:         fmt.Sprintf("%s %s/%s", event.Reason, strings.ToLower(obj.Kind), obj.Name),
		Status:       models.StatusFiring,
		Severity:     severity,
		LastReceived: eventTime(event).UTC(),
		Environment:  event.Namespace,
		Service:      obj.Name,
		Source:       []string{Type},
		Message:      event.Message,
		Description:  fmt.Sprintf("%s on %s %s/%s (seen %d times)", event.Reason, obj.Kind, obj.Namespace, obj.Name, event.Count),
		Labels: map[string]any{
			"namespace": event.Namespace,
			"kind":      obj.Kind,
			"name":      obj.Name,
			"reason":    event.Reason,
			"type":      event.Type,
			"component": event.Source.Component,
		},
	}
}
