package database

import (
	"fmt"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for TEXT timestamp
// columns. Fixed width keeps lexical and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp, accepting plain RFC 3339 for rows
// written by hand or by older builds.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}

	ts, err := time.Parse(TimeLayout, value)
	if err == nil {
		return ts, nil
	}

	fallback, fallbackErr := time.Parse(time.RFC3339Nano, value)
	if fallbackErr == nil {
		return fallback.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
}
