// Package formatter renders grouped alerts for the terminal.
package formatter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emirozbir/alertflow/internal/models"
)

const (
	divider      = "═══════════════════════════════════════════════════════════════════════════════"
	sectionBreak = "───────────────────────────────────────────────────────────────────────────────"
)

type Formatter struct {
	useColors bool
}

func NewFormatter(useColors bool) *Formatter {
	return &Formatter{
		useColors: useColors,
	}
}

func (f *Formatter) color(color, text string) string {
	if !f.useColors || color == "" {
		return text
	}
	return Colorize(color, text)
}

func (f *Formatter) bold(color, text string) string {
	if !f.useColors {
		return text
	}
	return BoldColorize(color, text)
}

func (f *Formatter) severityBadge(severity models.AlertSeverity) string {
	s := string(severity)
	bg := severityColor(s)
	if !f.useColors || bg == "" {
		return s
	}
	return fmt.Sprintf("%s%s %s %s", Bold, bg, s, Reset)
}

// FormatJSON renders grouped alerts as indented JSON.
func FormatJSON(grouped map[string][]*models.Alert) (string, error) {
	out, err := json.MarshalIndent(grouped, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal alerts: %w", err)
	}
	return string(out), nil
}

// FormatAlertGroups renders one section per fingerprint, newest group first.
func (f *Formatter) FormatAlertGroups(title string, grouped map[string][]*models.Alert) string {
	var sb strings.Builder

	// Header
	sb.WriteString("\n")
	sb.WriteString(f.color(Cyan, divider))
	sb.WriteString("\n")
	sb.WriteString(f.bold(Cyan, "  🔔 "+strings.ToUpper(title)))
	sb.WriteString("\n")
	sb.WriteString(f.color(Cyan, divider))
	sb.WriteString("\n\n")

	if len(grouped) == 0 {
		sb.WriteString(f.color(Green, "  No alerts"))
		sb.WriteString("\n")
	}

	for _, fp := range groupOrder(grouped) {
		f.writeGroup(&sb, fp, grouped[fp])
	}

	// Footer
	total := 0
	for _, group := range grouped {
		total += len(group)
	}
	sb.WriteString(f.color(Gray, fmt.Sprintf("  %d alerts in %d groups", total, len(grouped))))
	sb.WriteString("\n")
	sb.WriteString(f.color(Cyan, divider))
	sb.WriteString("\n")

	return sb.String()
}

// groupOrder sorts fingerprints by their latest occurrence, newest first.
func groupOrder(grouped map[string][]*models.Alert) []string {
	order := make([]string, 0, len(grouped))
	for fp := range grouped {
		order = append(order, fp)
	}
	latest := func(fp string) time.Time {
		group := grouped[fp]
		if len(group) == 0 {
			return time.Time{}
		}
		return group[len(group)-1].LastReceived
	}
	sort.Slice(order, func(i, j int) bool {
		li, lj := latest(order[i]), latest(order[j])
		if !li.Equal(lj) {
			return li.After(lj)
		}
		return order[i] < order[j]
	})
	return order
}

func (f *Formatter) writeGroup(sb *strings.Builder, fp string, group []*models.Alert) {
	if len(group) == 0 {
		return
	}
	last := group[len(group)-1]

	sb.WriteString(fmt.Sprintf("%s %s\n", f.severityBadge(last.Severity), f.bold(White, last.Name)))
	sb.WriteString(f.color(Gray, sectionBreak))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  Status:       %s\n", f.color(statusColor(string(last.Status)), string(last.Status))))
	sb.WriteString(fmt.Sprintf("  Fingerprint:  %s\n", f.color(Gray, shorten(fp, 16))))
	sb.WriteString(fmt.Sprintf("  Occurrences:  %d\n", len(group)))
	sb.WriteString(fmt.Sprintf("  Last seen:    %s\n", last.LastReceived.Format(time.RFC3339)))
	if len(last.Source) > 0 {
		sb.WriteString(fmt.Sprintf("  Source:       %s\n", strings.Join(last.Source, ", ")))
	}
	if last.Environment != "" {
		sb.WriteString(fmt.Sprintf("  Environment:  %s\n", last.Environment))
	}
	if last.Service != "" {
		sb.WriteString(fmt.Sprintf("  Service:      %s\n", last.Service))
	}
	if last.Assignee != "" {
		sb.WriteString(fmt.Sprintf("  Assignee:     %s\n", f.color(Cyan, last.Assignee)))
	}
	if last.Message != "" {
		sb.WriteString(fmt.Sprintf("  Message:      %s\n", last.Message))
	}
	if last.URL != nil && *last.URL != "" {
		sb.WriteString(fmt.Sprintf("  URL:          %s\n", f.color(Blue, *last.URL)))
	}

	deleted := 0
	for _, a := range group {
		if a.Deleted {
			deleted++
		}
	}
	if deleted > 0 {
		sb.WriteString(f.color(Yellow, fmt.Sprintf("  %d occurrence(s) deleted\n", deleted)))
	}
	sb.WriteString("\n")
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
