package models

import (
	"encoding/json"
	"time"
)

// AlertManagerAlert is a single alert as served by the AlertManager v2 API
// and carried inside webhook notifications.
type AlertManagerAlert struct {
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	UpdatedAt    time.Time         `json:"updatedAt,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
	Status       AlertManagerState `json:"status"`
	Fingerprint  string            `json:"fingerprint"`
}

// AlertManagerState accepts both the webhook form ("firing") and the v2 API
// form ({"state": "active"}).
type AlertManagerState struct {
	State string `json:"state"`
}

func (s *AlertManagerState) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.State)
	}
	type plain AlertManagerState
	return json.Unmarshal(data, (*plain)(s))
}

func (a *AlertManagerAlert) GetNamespace() string {
	if ns, ok := a.Labels["namespace"]; ok {
		return ns
	}
	if ns, ok := a.Labels["kubernetes_namespace"]; ok {
		return ns
	}
	return ""
}

func (a *AlertManagerAlert) GetSeverity() string {
	if sev, ok := a.Labels["severity"]; ok {
		return sev
	}
	return "unknown"
}

func (a *AlertManagerAlert) GetAlertName() string {
	if name, ok := a.Labels["alertname"]; ok {
		return name
	}
	return "unknown"
}

// AlertManagerWebhook represents the standard AlertManager webhook payload
type AlertManagerWebhook struct {
	Version           string              `json:"version"`
	GroupKey          string              `json:"groupKey"`
	TruncatedAlerts   int                 `json:"truncatedAlerts"`
	Status            string              `json:"status"` // "firing" or "resolved"
	Receiver          string              `json:"receiver"`
	GroupLabels       map[string]string   `json:"groupLabels"`
	CommonLabels      map[string]string   `json:"commonLabels"`
	CommonAnnotations map[string]string   `json:"commonAnnotations"`
	ExternalURL       string              `json:"externalURL"`
	Alerts            []AlertManagerAlert `json:"alerts"`
}
