package models

import (
	"time"
)

// isoMillis is the canonical timestamp layout: UTC, millisecond precision,
// trailing Z. Strings in this layout sort lexicographically in time order,
// which the change-cursor and timeline queries rely on.
const isoMillis = "2006-01-02T15:04:05.000Z"

// NowISO returns the current time in canonical form.
func NowISO() string {
	return time.Now().UTC().Format(isoMillis)
}

// FormatISO renders t in canonical form.
func FormatISO(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// NormalizeISO parses any RFC3339-ish timestamp and re-renders it in
// canonical form. Empty or unparseable input falls back to now so a bad
// producer clock field never rejects a write.
func NormalizeISO(s string) string {
	if s == "" {
		return NowISO()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, isoMillis} {
		if t, err := time.Parse(layout, s); err == nil {
			return FormatISO(t)
		}
	}
	return NowISO()
}

// ParseISO parses a canonical timestamp. Returns the zero time on failure.
func ParseISO(s string) time.Time {
	for _, layout := range []string{isoMillis, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
