// Package timestamp normalizes the timestamps carried by grid payloads.
//
// Edge devices report time in whatever form their runtime produces:
// RFC3339 with or without fractional seconds, ISO-8601 without a zone
// (taken as UTC), or Unix epoch seconds or milliseconds, as numbers or
// strings. Internally timestamps are int64 milliseconds since the Unix
// epoch; twin attributes carry them as RFC3339Nano strings in UTC.
//
// A value of 0 means "not set".
//
//	ms := timestamp.Parse("2026-03-01T12:00:00.250")
//	attr := timestamp.Normalize(payload.Timestamp, now)
package timestamp

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// zoneless layouts are ISO-8601 forms without an offset; they are read
// as UTC.
var zoneless = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders Unix milliseconds as an RFC3339Nano string in UTC.
// Returns empty string if timestamp is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// Parse converts various timestamp formats to Unix milliseconds.
// Supports:
//   - int64, int, float64 (milliseconds if > 1e12, otherwise seconds)
//   - string (RFC3339, zone-less ISO-8601, or a number as above)
//   - time.Time
//
// Returns 0 for nil, empty or unparseable input.
func Parse(input any) int64 {
	switch v := input.(type) {
	case nil:
		return 0

	case int64:
		if v == 0 {
			return 0
		}
		// 1e12 ms is September 2001; smaller values are seconds
		if v > 1e12 {
			return v
		}
		return v * 1000

	case int:
		return Parse(int64(v))

	case float64:
		if v == 0 {
			return 0
		}
		if v > 1e12 {
			return int64(math.Round(v))
		}
		return int64(math.Round(v * 1000))

	case string:
		return parseString(strings.TrimSpace(v))

	case time.Time:
		return ToUnixMs(v)

	default:
		return 0
	}
}

func parseString(s string) int64 {
	if s == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ToUnixMs(t)
	}
	for _, layout := range zoneless {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ToUnixMs(t)
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Parse(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Parse(f)
	}
	return 0
}

// Normalize returns v as an RFC3339Nano UTC string, or fallback formatted
// the same way when v is empty or unparseable.
func Normalize(v string, fallback time.Time) string {
	if ms := Parse(v); ms != 0 {
		return Format(ms)
	}
	return fallback.UTC().Format(time.RFC3339Nano)
}
