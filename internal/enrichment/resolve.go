package enrichment

import (
	"github.com/emirozbir/alertflow/internal/apperr"
	"github.com/emirozbir/alertflow/internal/models"
)

// Zipped is a foreach item produced by iterating two sequences together.
// The fingerprint is read from its first element.
type Zipped [2]any

// ResolveFingerprint picks the fingerprint to enrich, in order of
// precedence: the "fingerprint" key of results, the current foreach item,
// then the event being processed (a map or *models.Alert).
func ResolveFingerprint(results, foreach, event any) (string, error) {
	if m, ok := results.(map[string]any); ok {
		if v, present := m["fingerprint"]; present {
			return nonEmpty(asString(v))
		}
	}

	if item := foreachItem(foreach); item != nil {
		return nonEmpty(fingerprintOf(item))
	}

	if event != nil {
		return nonEmpty(fingerprintOf(event))
	}

	return "", apperr.ErrMissingFingerprint
}

func foreachItem(foreach any) any {
	switch v := foreach.(type) {
	case nil:
		return nil
	case Zipped:
		return v[0]
	case *Zipped:
		if v == nil {
			return nil
		}
		return v[0]
	case map[string]any:
		if len(v) == 0 {
			return nil
		}
	}
	return foreach
}

func fingerprintOf(v any) string {
	switch item := v.(type) {
	case map[string]any:
		return asString(item["fingerprint"])
	case *models.Alert:
		if item == nil {
			return ""
		}
		return item.Fingerprint
	case models.Alert:
		return item.Fingerprint
	}
	return ""
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func nonEmpty(fp string) (string, error) {
	if fp == "" {
		return "", apperr.ErrMissingFingerprint
	}
	return fp, nil
}
