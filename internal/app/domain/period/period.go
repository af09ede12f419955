// Package period models reporting months and their submission deadlines.
package period

import (
	"fmt"
	"time"
)

// Month identifies one reporting month. The zero value is invalid.
type Month struct {
	Year  int
	Month time.Month
}

// Of returns the month containing t.
func Of(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// Parse reads the YYYY-MM form used for entry keys.
func Parse(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: want YYYY-MM", s)
	}
	return Of(t), nil
}

// String renders the month as YYYY-MM.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// IsZero reports whether m is unset.
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Start is midnight on the first day of the month in loc.
func (m Month) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
}

// Prev returns the previous month.
func (m Month) Prev() Month {
	return Of(m.Start(time.UTC).AddDate(0, -1, 0))
}

// Next returns the following month.
func (m Month) Next() Month {
	return Of(m.Start(time.UTC).AddDate(0, 1, 0))
}

// Before reports whether m is earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// Deadline is the first instant after the due day: submissions are on time
// through the whole due day.
func (m Month) Deadline(dueDay int, loc *time.Location) time.Time {
	return m.Start(loc).AddDate(0, 0, dueDay)
}

// MarshalText implements encoding.TextMarshaler.
func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Month) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
