// internal/client/view/filter.go
package view

import (
	"strings"

	"notifcast/internal/client/store"
)

// Filter derives the visible subset of the message list for a free-text
// query. A blank query shows everything in the store's order. A non-blank
// query matches case-insensitively as a substring of title, sender or
// content. Pure transformation, recomputed on every store change and every
// keystroke, so no I/O happens here.
func Filter(records []store.Record, query string) []store.Record {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return records
	}

	visible := make([]store.Record, 0, len(records))
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Title), q) ||
			strings.Contains(strings.ToLower(r.Sender), q) ||
			strings.Contains(strings.ToLower(r.Content), q) {
			visible = append(visible, r)
		}
	}
	return visible
}
