// Package duration parses and formats durations with calendar-style units
// on top of what time.ParseDuration accepts: days, weeks, months (30 days)
// and years (365 days), written as "30d", "2 weeks" or "1w2d12h".
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
	// Month is 30 days.
	Month = 30 * Day
	// Year is 365 days.
	Year = 365 * Day
)

// units maps every accepted unit spelling, lowercased, to its length.
var units = map[string]time.Duration{
	"y": Year, "yr": Year, "yrs": Year, "year": Year, "years": Year,
	"mo": Month, "mos": Month, "month": Month, "months": Month,
	"w": Week, "wk": Week, "wks": Week, "week": Week, "weeks": Week,
	"d": Day, "day": Day, "days": Day,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"ms": time.Millisecond, "milli": time.Millisecond, "millis": time.Millisecond,
	"millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"us": time.Microsecond, "µs": time.Microsecond, "micro": time.Microsecond, "micros": time.Microsecond,
	"microsecond": time.Microsecond, "microseconds": time.Microsecond,
	"ns": time.Nanosecond, "nano": time.Nanosecond, "nanos": time.Nanosecond,
	"nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,
}

// tokenPattern matches one leading value-unit pair, with optional whitespace
// between value and unit.
var tokenPattern = regexp.MustCompile(`^(\d+)\s*([A-Za-zµ]+)`)

// Parse parses a duration string. Anything time.ParseDuration accepts is
// passed through unchanged; otherwise the string is read as a sequence of
// value-unit pairs where units may be calendar-style ("30 days", "2w") or
// spelled-out standard units ("3 hours"). Matching is case-insensitive and
// whitespace between value and unit is optional.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	negative := strings.HasPrefix(s, "-")
	rest := strings.TrimSpace(strings.TrimPrefix(s, "-"))
	if rest == "" {
		return 0, fmt.Errorf("duration: cannot parse %q", s)
	}

	var total time.Duration
	for rest != "" {
		m := tokenPattern.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("duration: cannot parse %q", s)
		}
		value, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("duration: value %q out of range", m[1])
		}
		unit, ok := units[strings.ToLower(m[2])]
		if !ok {
			return 0, fmt.Errorf("duration: unknown unit %q in %q", m[2], s)
		}
		total += time.Duration(value) * unit
		rest = strings.TrimSpace(rest[len(m[0]):])
	}

	if negative {
		total = -total
	}
	return total, nil
}

// formatSteps orders the units Format emits, largest first.
var formatSteps = []struct {
	unit time.Duration
	name string
}{
	{Year, "y"},
	{Month, "mo"},
	{Week, "w"},
	{Day, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "µs"},
	{time.Nanosecond, "ns"},
}

// Format renders a duration using the largest fitting units and omits zero
// components: 90 minutes becomes "1h30m", 37 days "1mo1w".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	for _, step := range formatSteps {
		if n := d / step.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, step.name)
			d -= n * step.unit
		}
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}
