// Package timeutil normalizes the timestamp and side encodings the upstream
// trade-search API is observed to emit: ISO-8601 with variable fractional
// precision, Z or numeric-offset zones, and side as either a string or an
// integer code.
package timeutil

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// isoPattern splits a timestamp into date+time, optional fractional seconds,
// and an offset (colon-delimited or not, or "Z").
var isoPattern = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})(\.\d+)?(Z|[+-]\d{2}:?\d{2})?$`,
)

// AsUTC converts t to UTC. A time in time.Local is treated as naive: its
// wall-clock reading is kept and relabelled as UTC rather than converted.
// Times in any other zone are converted.
func AsUTC(t time.Time) time.Time {
	if t.Location() == nil || t.Location() == time.Local {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	}
	return t.UTC()
}

// ParseTimestamp accepts ISO-8601 with a variable-precision fractional
// seconds component, a trailing "Z", or a numeric offset with or without a
// colon. It fails soft: an unparseable string yields ok=false rather than an
// error the caller must unwrap.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	m := isoPattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	base, frac, offset := m[1], m[2], m[3]

	switch {
	case offset == "":
		offset = "+00:00"
	case offset == "Z":
		offset = "+00:00"
	case len(offset) == 5: // +0000, no colon
		offset = offset[:3] + ":" + offset[3:]
	}

	if frac == "" {
		frac = ".000000"
	} else {
		digits := frac[1:]
		if len(digits) > 6 {
			digits = digits[:6]
		} else {
			digits = digits + strings.Repeat("0", 6-len(digits))
		}
		frac = "." + digits
	}

	normalized := base + frac + offset
	parsed, err := time.Parse("2006-01-02T15:04:05.000000-07:00", normalized)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

// ISOUTC renders t in UTC as ISO-8601 with microsecond precision and a "Z"
// suffix, matching the wire format the upstream API and this service both use.
func ISOUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// NormalizeSide maps the upstream API's heterogeneous side encodings (string
// names, aliases, or 0/1 codes) onto the canonical BUY/SELL/UNKNOWN set.
func NormalizeSide(raw any) string {
	switch v := raw.(type) {
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "BUY", "LONG", "BID":
			return "BUY"
		case "SELL", "SHORT", "ASK":
			return "SELL"
		case "0":
			return "BUY"
		case "1":
			return "SELL"
		default:
			return "UNKNOWN"
		}
	case float64:
		return sideFromCode(int(v))
	case int:
		return sideFromCode(v)
	case int64:
		return sideFromCode(int(v))
	case nil:
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

func sideFromCode(code int) string {
	switch code {
	case 0:
		return "BUY"
	case 1:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseEpochMillis converts an epoch-millisecond integer into a time.Time, a
// common encoding for token expiry fields.
func ParseEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// LooksLikeEpochMillis reports whether a numeric value is large enough to be
// an epoch-millisecond timestamp rather than epoch seconds (anything after
// roughly year 2001 in seconds exceeds 1e9, so values above 1e12 are
// unambiguously milliseconds).
func LooksLikeEpochMillis(v float64) bool {
	return v > 1e12
}

// FormatDate renders the UTC calendar date portion only (YYYY-MM-DD), used
// for the day-sync bookkeeping key and same-date checks.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SameUTCDate reports whether a and b fall on the same UTC calendar date.
func SameUTCDate(a, b time.Time) bool {
	return FormatDate(a) == FormatDate(b)
}

// ParseIntEnv parses a positive integer environment value, returning def
// (and no error) when raw is empty, and an error when raw is present but not
// a positive integer.
func ParseIntEnv(name, raw string, def int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, &InvalidEnvError{Name: name, Value: raw}
	}
	return n, nil
}

// InvalidEnvError reports an environment variable that was present but not a
// valid positive integer.
type InvalidEnvError struct {
	Name  string
	Value string
}

func (e *InvalidEnvError) Error() string {
	return "invalid value for " + e.Name + ": " + strconv.Quote(e.Value)
}
