package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// DismissUntilLayout is the format of dismissUntil timestamps. The
// fractional seconds are optional.
const DismissUntilLayout = "2006-01-02T15:04:05.999999Z"

type AlertStatus string

const (
	StatusFiring       AlertStatus = "firing"
	StatusResolved     AlertStatus = "resolved"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusSuppressed   AlertStatus = "suppressed"
	StatusPending      AlertStatus = "pending"
)

// Valid reports whether s is one of the platform statuses.
func (s AlertStatus) Valid() bool {
	switch s {
	case StatusFiring, StatusResolved, StatusAcknowledged, StatusSuppressed, StatusPending:
		return true
	}
	return false
}

// UnmarshalJSON falls back to firing for unknown values.
func (s *AlertStatus) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	str, _ := v.(string)
	if st := AlertStatus(strings.ToLower(str)); st.Valid() {
		*s = st
		return nil
	}
	*s = StatusFiring
	return nil
}

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityHigh     AlertSeverity = "high"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
	SeverityLow      AlertSeverity = "low"
)

// Order ranks severities from low (1) to critical (5). Unknown values rank 0.
func (s AlertSeverity) Order() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityWarning:
		return 3
	case SeverityInfo:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// UnmarshalJSON falls back to info for unknown values.
func (s *AlertSeverity) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	str, _ := v.(string)
	if sev := AlertSeverity(strings.ToLower(str)); sev.Order() > 0 {
		*s = sev
		return nil
	}
	*s = SeverityInfo
	return nil
}

// Alert is the canonical alert shape every provider maps into.
type Alert struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Status          AlertStatus    `json:"status"`
	Severity        AlertSeverity  `json:"severity"`
	LastReceived    time.Time      `json:"lastReceived"`
	Environment     string         `json:"environment"`
	IsDuplicate     bool           `json:"isDuplicate"`
	DuplicateReason *string        `json:"duplicateReason"`
	Service         string         `json:"service,omitempty"`
	Source          []string       `json:"source"`
	APIKeyRef       string         `json:"apiKeyRef,omitempty"`
	Message         string         `json:"message,omitempty"`
	Description     string         `json:"description,omitempty"`
	Pushed          bool           `json:"pushed"`
	EventID         string         `json:"event_id"`
	URL             *string        `json:"url"`
	Labels          map[string]any `json:"labels"`
	Fingerprint     string         `json:"fingerprint,omitempty"`
	Deleted         bool           `json:"deleted"`
	DismissUntil    string         `json:"dismissUntil,omitempty"`
	Dismissed       bool           `json:"dismissed"`
	Assignee        string         `json:"assignee,omitempty"`
	ProviderID      string         `json:"providerId,omitempty"`
	Group           bool           `json:"group"`
	Note            string         `json:"note,omitempty"`

	// Extra keeps keys that have no dedicated field (enrichments such as
	// ticket_url). They are serialized at the top level.
	Extra map[string]any `json:"-"`
}

type alertFields Alert

// fieldIndex maps JSON names to struct field indexes.
var fieldIndex = func() map[string]int {
	t := reflect.TypeOf(Alert{})
	idx := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		idx[name] = i
	}
	return idx
}()

// MarshalJSON flattens Extra next to the known fields.
func (a Alert) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(alertFields(a))
	if err != nil || len(a.Extra) == 0 {
		return base, err
	}
	merged := make(map[string]any, len(fieldIndex)+len(a.Extra))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range a.Extra {
		if _, known := fieldIndex[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields and collects the rest into Extra.
// A string dismissed is true only when it reads "true" in any case, and a
// dismissal whose dismissUntil has passed no longer holds.
func (a *Alert) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["dismissed"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			raw["dismissed"] = json.RawMessage(strconv.FormatBool(strings.EqualFold(s, "true")))
			normalized, err := json.Marshal(raw)
			if err != nil {
				return err
			}
			data = normalized
		}
	}
	if err := json.Unmarshal(data, (*alertFields)(a)); err != nil {
		return err
	}
	a.expireDismissal(time.Now())

	for k, v := range raw {
		if _, known := fieldIndex[k]; known {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[k] = val
	}
	return nil
}

// Set assigns a single attribute by its JSON name, replacing the previous
// value. Keys without a dedicated field land in Extra. Strings are accepted
// for boolean fields ("true", "False", "1"...). On a type mismatch the alert
// is left untouched.
func (a *Alert) Set(key string, value any) error {
	idx, known := fieldIndex[key]
	if !known {
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[key] = value
		return nil
	}

	if s, ok := value.(string); ok && reflect.TypeOf(Alert{}).Field(idx).Type.Kind() == reflect.Bool {
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
		if err != nil {
			return fmt.Errorf("failed to set %s: %q is not a boolean", key, s)
		}
		value = b
	}

	data, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	var tmp Alert
	if err := json.Unmarshal(data, (*alertFields)(&tmp)); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	reflect.ValueOf(a).Elem().Field(idx).Set(reflect.ValueOf(tmp).Field(idx))
	if key == "dismissed" || key == "dismissUntil" {
		a.expireDismissal(time.Now())
	}
	return nil
}

// expireDismissal clears Dismissed once dismissUntil is before now. An
// unparseable dismissUntil leaves the dismissal in place.
func (a *Alert) expireDismissal(now time.Time) {
	if !a.Dismissed || a.DismissUntil == "" {
		return
	}
	until, err := time.Parse(DismissUntilLayout, a.DismissUntil)
	if err != nil {
		if until, err = time.Parse(time.RFC3339Nano, a.DismissUntil); err != nil {
			return
		}
	}
	a.Dismissed = now.Before(until)
}

// Fields returns the alert as a generic map keyed by JSON names.
func (a *Alert) Fields() map[string]any {
	data, err := json.Marshal(a)
	if err != nil {
		return map[string]any{}
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return map[string]any{}
	}
	return fields
}
