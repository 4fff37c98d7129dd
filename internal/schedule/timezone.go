package schedule

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Timezone is a validated IANA zone plus the label shown next to times.
// Two timezones are the same zone when their names match; the label is
// cosmetic.
type Timezone struct {
	Name  string
	Label string

	loc *time.Location
}

// NewTimezone validates name against the IANA database. An empty label
// defaults to the name.
func NewTimezone(name, label string) (Timezone, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Timezone{}, fmt.Errorf("timezone name must not be empty")
	}
	// "Local" is the host zone, not an IANA name
	if name == "Local" {
		return Timezone{}, fmt.Errorf("%q isn't a valid timezone", name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Timezone{}, fmt.Errorf("%q isn't a valid timezone", name)
	}
	if strings.TrimSpace(label) == "" {
		label = name
	}
	return Timezone{Name: name, Label: label, loc: loc}, nil
}

// MustTimezone is NewTimezone for static tables and tests.
func MustTimezone(name, label string) Timezone {
	tz, err := NewTimezone(name, label)
	if err != nil {
		panic(err)
	}
	return tz
}

func (tz Timezone) Equal(other Timezone) bool { return tz.Name == other.Name }

// Location falls back to UTC for the zero value.
func (tz Timezone) Location() *time.Location {
	if tz.loc == nil {
		return time.UTC
	}
	return tz.loc
}

func (tz Timezone) String() string { return tz.Name }

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) Time() time.Time { return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC) }

func (d Date) Before(other Date) bool { return d.Time().Before(other.Time()) }

func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

func (d Date) String() string { return d.Time().Format(time.DateOnly) }
