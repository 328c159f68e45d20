package http

import (
	"strings"

	"financas/internal/core"
)

// sanitizeInput removes control characters except tab and newlines, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// lastDate returns the latest date of an ascending list.
func lastDate(dates []core.Date) (core.Date, bool) {
	if len(dates) == 0 {
		return core.Date{}, false
	}
	return dates[len(dates)-1], true
}
