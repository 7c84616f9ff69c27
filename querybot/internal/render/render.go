// Package render formats query results as Telegram markdown.
package render

import (
	"fmt"
	"strings"
)

// MaxListed is the largest result set rendered in full.
const MaxListed = 10

// truncatedLen is how many rows are shown when a set exceeds MaxListed.
const truncatedLen = 9

// List renders rows as a preformatted block headed by the total count.
// Sets larger than MaxListed show the first nine rows followed by a
// "... and N more ..." footer where N is total minus MaxListed.
func List(rows []map[string]any) string {
	total := len(rows)
	shown := rows
	if total > MaxListed {
		shown = rows[:truncatedLen]
	}

	entries := make([]string, 0, len(shown))
	for _, row := range shown {
		entries = append(entries, fmt.Sprintf("- %v (%v): %v\n", field(row, "name"), field(row, "id"), field(row, "status")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "``` Total: %d\n%s", total, strings.Join(entries, "\n"))
	if total > MaxListed {
		fmt.Fprintf(&b, "\n- ... and %d more ...```", total-MaxListed)
	} else {
		b.WriteString(" ```")
	}
	return b.String()
}

// Value wraps any scalar in a preformatted block.
func Value(v any) string {
	return fmt.Sprintf("``` %v ```", v)
}

// Error formats err for delivery to the originating chat.
func Error(err error) string {
	return fmt.Sprintf("*ERR*: ``` %v ```", err)
}

func field(row map[string]any, name string) any {
	if v, ok := row[name]; ok && v != nil {
		return v
	}
	return ""
}
