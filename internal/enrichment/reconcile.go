package enrichment

import (
	"time"

	"github.com/emirozbir/alertflow/internal/models"
)

// Keys whose values are keyed by lastReceived rather than applying to
// every occurrence of a fingerprint.
const (
	KeyDeletedAt = "deletedAt"
	KeyDeleted   = "deleted"
	KeyAssignees = "assignees"
)

// Reconcile applies the deletion and assignee enrichments to alert and
// returns the enrichments that remain to be overlaid field by field.
//
// deletedAt (or a list-valued deleted) holds the lastReceived timestamps of
// deleted occurrences. assignees maps a lastReceived timestamp, or "*", to
// an assignee.
func Reconcile(alert *models.Alert, enrichments map[string]any) map[string]any {
	rest := make(map[string]any, len(enrichments))
	for k, v := range enrichments {
		rest[k] = v
	}

	deleted, hasDeletedAt := rest[KeyDeletedAt]
	if hasDeletedAt {
		delete(rest, KeyDeletedAt)
	}
	if list, ok := rest[KeyDeleted].([]any); ok {
		if !hasDeletedAt {
			deleted = list
		}
		delete(rest, KeyDeleted)
	}
	if list, ok := deleted.([]any); ok && containsTimestamp(list, alert.LastReceived) {
		alert.Deleted = true
	}

	if raw, ok := rest[KeyAssignees]; ok {
		delete(rest, KeyAssignees)
		if assignees, ok := raw.(map[string]any); ok {
			assignee := lookupTimestamp(assignees, alert.LastReceived)
			if assignee == "" {
				assignee, _ = assignees["*"].(string)
			}
			if assignee != "" {
				alert.Assignee = assignee
			}
		}
	}

	return rest
}

func containsTimestamp(list []any, ts time.Time) bool {
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if sameInstant(s, ts) {
			return true
		}
	}
	return false
}

func lookupTimestamp(m map[string]any, ts time.Time) string {
	for k, v := range m {
		if k == "*" {
			continue
		}
		if s, ok := v.(string); ok && sameInstant(k, ts) {
			return s
		}
	}
	return ""
}

func sameInstant(s string, ts time.Time) bool {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return false
	}
	return parsed.Equal(ts)
}
