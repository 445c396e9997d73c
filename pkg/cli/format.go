package cli

import "fmt"

// FormatSeconds formats a session duration in whole seconds as a short
// human-readable string.
func FormatSeconds(secs int) string {
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	mins := secs / 60
	secs -= mins * 60
	if mins < 60 {
		return fmt.Sprintf("%dm%02ds", mins, secs)
	}
	hours := mins / 60
	mins -= hours * 60
	return fmt.Sprintf("%dh%02dm", hours, mins)
}
