// Package normalize turns loosely typed pushed payloads into canonical alerts.
package normalize

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/emirozbir/alertflow/internal/apperr"
	"github.com/emirozbir/alertflow/internal/models"
)

// Placeholder is used for descriptive fields the payload did not carry.
const Placeholder = "alert-from-event-queue"

// Now is the clock used for lastReceived defaults.
var Now = func() time.Time { return time.Now().UTC() }

// Normalize builds an alert from raw, which may be a map or JSON text. Raw
// values that are not (or do not parse to) a JSON object, or whose fields
// have the wrong types, return an error wrapping apperr.ErrMalformedPayload.
func Normalize(raw any, providerType string) (*models.Alert, error) {
	data, err := asMap(raw)
	if err != nil {
		return nil, err
	}

	withDefaults := make(map[string]any, len(data)+16)
	for k, v := range data {
		withDefaults[k] = v
	}
	setDefault(withDefaults, "id", func() any { return uuid.NewString() })
	setDefault(withDefaults, "event_id", func() any { return uuid.NewString() })
	for _, key := range []string{"name", "environment", "service", "message", "description"} {
		setDefault(withDefaults, key, func() any { return Placeholder })
	}
	setDefault(withDefaults, "status", func() any { return models.StatusFiring })
	setDefault(withDefaults, "severity", func() any { return models.SeverityInfo })
	setDefault(withDefaults, "isDuplicate", func() any { return false })
	setDefault(withDefaults, "pushed", func() any { return false })
	setDefault(withDefaults, "source", func() any { return []string{providerType} })
	if v, ok := withDefaults["lastReceived"]; !ok || v == nil || v == "" {
		withDefaults["lastReceived"] = Now()
	}

	encoded, err := json.Marshal(withDefaults)
	if err != nil {
		return nil, apperr.New(apperr.CodeMalformedPayload, "failed to encode alert", err)
	}
	var alert models.Alert
	if err := json.Unmarshal(encoded, &alert); err != nil {
		return nil, apperr.New(apperr.CodeMalformedPayload, "failed to decode alert", err)
	}
	return &alert, nil
}

func asMap(raw any) (map[string]any, error) {
	var parsed any
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, apperr.New(apperr.CodeMalformedPayload, "payload is not valid JSON", err)
		}
	case []byte:
		if err := json.Unmarshal(v, &parsed); err != nil {
			return nil, apperr.New(apperr.CodeMalformedPayload, "payload is not valid JSON", err)
		}
	case json.RawMessage:
		if err := json.Unmarshal(v, &parsed); err != nil {
			return nil, apperr.New(apperr.CodeMalformedPayload, "payload is not valid JSON", err)
		}
	default:
		return nil, apperr.ErrMalformedPayload
	}

	m, ok := parsed.(map[string]any)
	if !ok {
		return nil, apperr.ErrMalformedPayload
	}
	return m, nil
}

// setDefault fills key when it is absent or null.
func setDefault(m map[string]any, key string, value func() any) {
	if v, ok := m[key]; !ok || v == nil {
		m[key] = value()
	}
}
