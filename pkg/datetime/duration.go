package datetime

import (
	"fmt"
	"strings"
	"time"
)

// Calendar components of an ISO 8601 duration are normalized to fixed
// lengths: a year is 365 days and a month is 30 days. Transition timeouts
// never span calendar boundaries, so the approximation is harmless.
const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// ParseDuration parses an ISO 8601 duration string such as "PT2M30S" or
// "P1DT12H". Plain Go duration syntax ("90s", "2m30s") is accepted as a
// fallback so that hand-written config files stay convenient.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if s[0] != 'P' {
		return time.ParseDuration(s)
	}

	rest := s[1:]
	if rest == "" {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}

	var total time.Duration
	inTime := false
	parsed := false
	for len(rest) > 0 {
		if rest[0] == 'T' {
			inTime = true
			rest = rest[1:]
			continue
		}

		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
		}

		var value float64
		if _, err := fmt.Sscanf(rest[:i], "%g", &value); err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", s, err)
		}

		unit := rest[i]
		rest = rest[i+1:]

		switch unit {
		case 'Y':
			total += time.Duration(value * float64(year))
		case 'M':
			if inTime {
				total += time.Duration(value * float64(time.Minute))
			} else {
				total += time.Duration(value * float64(month))
			}
		case 'W':
			total += time.Duration(value * float64(week))
		case 'D':
			total += time.Duration(value * float64(day))
		case 'H':
			total += time.Duration(value * float64(time.Hour))
		case 'S':
			total += time.Duration(value * float64(time.Second))
		default:
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: unknown unit %q", s, string(unit))
		}
		parsed = true
	}

	if !parsed {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}
	return total, nil
}

// FormatDuration renders d as an ISO 8601 duration using day, hour, minute
// and second components. Sub-second precision is kept as a fractional
// seconds component.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}

	var sb strings.Builder
	sb.WriteByte('P')

	if days := d / day; days > 0 {
		fmt.Fprintf(&sb, "%dD", days)
		d -= days * day
	}
	if d > 0 {
		sb.WriteByte('T')
		if h := d / time.Hour; h > 0 {
			fmt.Fprintf(&sb, "%dH", h)
			d -= h * time.Hour
		}
		if m := d / time.Minute; m > 0 {
			fmt.Fprintf(&sb, "%dM", m)
			d -= m * time.Minute
		}
		if d > 0 {
			secs := float64(d) / float64(time.Second)
			if secs == float64(int64(secs)) {
				fmt.Fprintf(&sb, "%dS", int64(secs))
			} else {
				fmt.Fprintf(&sb, "%gS", secs)
			}
		}
	}

	out := sb.String()
	if out == "P" {
		return "PT0S"
	}
	return out
}
