package models

import (
	"fmt"
	"strings"
	"time"
)

// localLayout is the historical date format of the collection file,
// interpreted in the local timezone.
const localLayout = "2006-01-02 15:04:05"

// LocalTime serializes as "2006-01-02 15:04:05" in the local zone and
// accepts ISO-8601 / RFC 3339 on decode for older data files.
type LocalTime struct {
	time.Time
}

// MarshalJSON writes the local-time layout.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.In(time.Local).Format(localLayout) + `"`), nil
}

// UnmarshalJSON tries the local layout first, then RFC 3339.
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.ParseInLocation(localLayout, s, time.Local); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("models: unrecognized date %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// EqualSecond reports whether two timestamps match at second granularity.
// The collection file stores whole seconds only.
func (t LocalTime) EqualSecond(other LocalTime) bool {
	return t.Truncate(time.Second).Equal(other.Truncate(time.Second))
}
