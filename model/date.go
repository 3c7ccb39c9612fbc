package model

import (
	"fmt"
	"time"
)

// Date is a calendar date with no time-of-day or location component, used
// for Calendar/CalendarException keys and for service-day computations. It
// compares and hashes like a plain value type, so it is safe to use as a
// map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateFromTime truncates t (in whatever location it carries) to a Date.
func DateFromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a GTFS YYYYMMDD date string.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("20060102", s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return DateFromTime(t), nil
}

// Time returns the midnight instant of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return DateFromTime(d.Time(time.UTC).AddDate(0, 0, n))
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool {
	return d.Time(time.UTC).Before(o.Time(time.UTC))
}

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool {
	return d.Time(time.UTC).After(o.Time(time.UTC))
}

// Weekday returns the weekday index used by CalendarDays (monday=0).
func (d Date) Weekday() int {
	wd := d.Time(time.UTC).Weekday()
	// time.Sunday == 0, but CalendarDays is monday-first.
	return (int(wd) + 6) % 7
}

func (d Date) String() string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, d.Month, d.Day)
}
