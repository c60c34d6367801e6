// Package utils holds helpers shared by the model clients.
package utils

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

var after = time.After

// WaitFor pauses for d or until ctx is done, whichever comes first.
func WaitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-after(d):
		return nil
	}
}

// Preview renders s as a single log line of at most limit runes. Runs of
// whitespace, newlines included, become one space so rendered context blocks
// stay on one line.
func Preview(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
