package formatter

import "fmt"

// ANSI color codes for terminal output
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	// Foreground colors
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"

	// Background colors
	BgRed     = "\033[41m"
	BgGreen   = "\033[42m"
	BgYellow  = "\033[43m"
	BgBlue    = "\033[44m"
	BgMagenta = "\033[45m"
)

// Color helpers
func Colorize(color, text string) string {
	return fmt.Sprintf("%s%s%s", color, text, Reset)
}

func BoldColorize(color, text string) string {
	return fmt.Sprintf("%s%s%s%s", Bold, color, text, Reset)
}

func severityColor(severity string) string {
	switch severity {
	case "critical":
		return BgRed
	case "high":
		return BgMagenta
	case "warning":
		return BgYellow
	case "info":
		return BgBlue
	default:
		return ""
	}
}

func statusColor(status string) string {
	switch status {
	case "firing":
		return Red
	case "resolved":
		return Green
	case "acknowledged":
		return Cyan
	case "suppressed", "pending":
		return Yellow
	default:
		return Gray
	}
}
