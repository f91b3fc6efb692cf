package formatter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emirozbir/alertflow/internal/models"
)

func sampleGroups() map[string][]*models.Alert {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return map[string][]*models.Alert{
		"fp-old": {
			{Name: "disk filling", Status: models.StatusResolved, Severity: models.SeverityWarning, LastReceived: now.Add(-time.Hour)},
		},
		"fp-new": {
			{Name: "cpu high", Status: models.StatusFiring, Severity: models.SeverityCritical, LastReceived: now.Add(-time.Minute), Deleted: true},
			{Name: "cpu high", Status: models.StatusFiring, Severity: models.SeverityCritical, LastReceived: now, Assignee: "oncall@example.com", Source: []string{"alertmanager"}},
		},
	}
}

func TestFormatAlertGroupsPlain(t *testing.T) {
	out := NewFormatter(false).FormatAlertGroups("alertmanager alerts", sampleGroups())

	assert.NotContains(t, out, "\033[")
	assert.Contains(t, out, "ALERTMANAGER ALERTS")
	assert.Contains(t, out, "Occurrences:  2")
	assert.Contains(t, out, "Assignee:     oncall@example.com")
	assert.Contains(t, out, "1 occurrence(s) deleted")
	assert.Contains(t, out, "3 alerts in 2 groups")
	assert.Less(t, strings.Index(out, "cpu high"), strings.Index(out, "disk filling"))
}

func TestFormatAlertGroupsColored(t *testing.T) {
	out := NewFormatter(true).FormatAlertGroups("alerts", sampleGroups())
	assert.Contains(t, out, BgRed)
	assert.Contains(t, out, Colorize(Red, "firing"))
}

func TestFormatAlertGroupsEmpty(t *testing.T) {
	out := NewFormatter(false).FormatAlertGroups("alerts", map[string][]*models.Alert{})
	assert.Contains(t, out, "No alerts")
}

func TestFormatJSON(t *testing.T) {
	out, err := FormatJSON(sampleGroups())
	require.NoError(t, err)
	assert.Contains(t, out, `"fp-new"`)
	assert.Contains(t, out, `"name": "cpu high"`)
}
