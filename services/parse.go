package services

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

var now = time.Now

// Period is a half-open [Start, End) range of whole UTC days.
type Period struct {
	Start time.Time
	End   time.Time
}

// Month is the YYYY-MM label of the month the period ends in.
func (p Period) Month() string {
	return p.End.Add(-time.Nanosecond).Format(monthLayout)
}

// IsCalendarMonth reports whether the period covers exactly one month.
func (p Period) IsCalendarMonth() bool {
	return p.Start.Day() == 1 && p.Start.AddDate(0, 1, 0).Equal(p.End)
}

func (p Period) Label() string {
	if p.IsCalendarMonth() {
		return p.Month()
	}
	return p.Start.Format(dayLayout) + ".." + p.End.AddDate(0, 0, -1).Format(dayLayout)
}

func MonthPeriod(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// ParseQuantity converts a raw boundary value into a non-negative number.
func ParseQuantity(field, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, invalid(field, "is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, invalid(field, "%q is not a number", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalid(field, "must be a finite number")
	}
	if v < 0 {
		return 0, invalid(field, "must not be negative")
	}
	return v, nil
}

// ParseOptionalQuantity substitutes def for an empty value.
func ParseOptionalQuantity(field, raw string, def float64) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return ParseQuantity(field, raw)
}

// ParseDay accepts YYYY-MM-DD or RFC3339 and returns midnight UTC of that
// calendar day, the dedup key for daily logs.
func ParseDay(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, invalid(field, "is required")
	}
	if t, err := time.Parse(dayLayout, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, invalid(field, "%q is not a date (use YYYY-MM-DD)", raw)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// ParseMonth turns a YYYY-MM label into its period; empty means the current month.
func ParseMonth(field, raw string) (Period, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MonthPeriod(now()), nil
	}
	t, err := time.Parse(monthLayout, raw)
	if err != nil {
		return Period{}, invalid(field, "%q is not a month (use YYYY-MM)", raw)
	}
	return MonthPeriod(t), nil
}

// ParsePeriod resolves either an explicit from/to day range (to inclusive)
// or a month label.
func ParsePeriod(month, from, to string) (Period, error) {
	if strings.TrimSpace(from) == "" && strings.TrimSpace(to) == "" {
		return ParseMonth("month", month)
	}
	start, err := ParseDay("from", from)
	if err != nil {
		return Period{}, err
	}
	end, err := ParseDay("to", to)
	if err != nil {
		return Period{}, err
	}
	if end.Before(start) {
		return Period{}, invalid("to", "must not be before from")
	}
	return Period{Start: start, End: end.AddDate(0, 0, 1)}, nil
}

func requireText(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalid(field, "is required")
	}
	return value, nil
}
