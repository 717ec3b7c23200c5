package opens

import (
	"fmt"
	"strings"
	"time"
)

// FormatElapsed renders openedAt-sentAt for humans, e.g. "1 day, 1 hour, 1 minute".
//
// At most three consecutive units are shown, starting from the largest
// nonzero one (days, hours, minutes, seconds); zero units are skipped. Zero or
// negative durations are "immediately".
func FormatElapsed(sentAt, openedAt time.Time) string {
	total := int64(openedAt.Sub(sentAt) / time.Second)
	if total <= 0 {
		return "immediately"
	}

	units := []struct {
		name  string
		value int64
	}{
		{"day", total / 86400},
		{"hour", total % 86400 / 3600},
		{"minute", total % 3600 / 60},
		{"second", total % 60},
	}

	start := 0
	for start < len(units) && units[start].value == 0 {
		start++
	}
	end := start + 3
	if end > len(units) {
		end = len(units)
	}

	var parts []string
	for _, u := range units[start:end] {
		if u.value == 0 {
			continue
		}
		parts = append(parts, plural(u.value, u.name))
	}
	return strings.Join(parts, ", ")
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
