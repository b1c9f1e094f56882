package core

import (
	"strings"
	"time"
)

const (
	// ISOLayout is the UTC ISO-8601 layout used on the wire.
	ISOLayout = "2006-01-02T15:04:05.000Z"

	// InputLayout matches an HTML datetime-local value with seconds.
	InputLayout = "2006-01-02T15:04:05"

	// DisplayLayout is the human readable timestamp layout.
	DisplayLayout = "2006-01-02 15:04:05"
)

// FormatISO normalizes t to UTC and formats it as ISO-8601.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// FormatTimestampLocal renders t in loc for form inputs.
func FormatTimestampLocal(t time.Time, loc *time.Location) string {
	return t.In(location(loc)).Format(InputLayout)
}

// FormatTimestampLocalForDisplay renders t in loc for listings.
func FormatTimestampLocalForDisplay(t time.Time, loc *time.Location) string {
	return t.In(location(loc)).Format(DisplayLayout)
}

// ParseLocalTimestamp parses a form timestamp. Values without a zone
// are interpreted in loc; RFC 3339 values keep their own offset.
func ParseLocalTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{InputLayout, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, location(loc)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
