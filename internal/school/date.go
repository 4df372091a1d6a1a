package school

import (
	"bytes"
	"fmt"
	"time"
)

// DateLayout is the calendar-date form used by the JSON API.
const DateLayout = "2006-01-02"

// Date is a time that accepts either a calendar date or an RFC 3339 timestamp in JSON.
type Date struct {
	time.Time
}

// UnmarshalJSON parses "2006-01-02" or RFC 3339. null and "" leave the zero time.
func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("school: invalid date %q", s)
	}
	d.Time = t
	return nil
}

// MarshalJSON writes the calendar date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}
