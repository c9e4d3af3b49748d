package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/inbox/internal/errs"
)

// Postgres renders timestamptz as text in several shapes depending on where it
// comes from (row_to_json, ::text casts, driver formatting).
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a stored timestamp. On failure it returns the zero time
// and an error wrapping errs.ErrMalformedTimestamp; callers keep the raw value.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty: %w", errs.ErrMalformedTimestamp)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q: %w", raw, errs.ErrMalformedTimestamp)
}

// FormatTimestamp is the canonical text form used when rows are built from driver values.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
