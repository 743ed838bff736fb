package utils

import (
	"fmt"
	"strings"
	"time"
)

// FormatUptime renders a duration as "2days, 3h:4m:5s", dropping leading
// zero units.
func FormatUptime(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds <= 0 {
		return "0s"
	}

	days := seconds / 86400
	hours := seconds / 3600 % 24
	minutes := seconds / 60 % 60
	secs := seconds % 60

	var parts []string
	if hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || len(parts) > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", secs))

	out := strings.Join(parts, ":")
	if days > 0 {
		out = fmt.Sprintf("%ddays, %s", days, out)
	}
	return out
}
