// Package timestamp turns the timestamp shapes exchanges and storage hand back into
// one canonical UTC instant, and measures order age against a reference clock.
//
// Inputs without a zone offset are interpreted as UTC. Exchange APIs that omit the
// offset document their timestamps as UTC, so this is a policy, not a guess.
package timestamp

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SkewTolerance is how far in the future an instant may sit before AgeSeconds
// reports a clock inconsistency instead of clamping to zero.
const SkewTolerance = time.Second

// zonedLayouts carry an explicit offset. Fractional seconds are accepted by
// time.Parse after the seconds field even when the layout omits them.
var zonedLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04Z07:00",
}

// naiveLayouts have no offset and are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// TimestampParseError means no supported encoding matched the input.
type TimestampParseError struct {
	Value string
	Cause string
}

func (e *TimestampParseError) Error() string {
	return fmt.Sprintf("unrecognized timestamp %q: %s", e.Value, e.Cause)
}

// ClockSkewError means an instant lies in the future relative to "now" by more
// than SkewTolerance.
type ClockSkewError struct {
	Instant time.Time
	Now     time.Time
	Skew    time.Duration
}

func (e *ClockSkewError) Error() string {
	return fmt.Sprintf("instant %s is %s ahead of now %s",
		e.Instant.Format(time.RFC3339Nano), e.Skew, e.Now.Format(time.RFC3339Nano))
}

// Normalize converts a structured time or a textual timestamp into a UTC instant.
func Normalize(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return fromTime(v)
	case *time.Time:
		if v == nil {
			return time.Time{}, &TimestampParseError{Value: "<nil>", Cause: "nil time pointer"}
		}
		return fromTime(*v)
	case string:
		return parseString(v)
	case []byte:
		return parseString(string(v))
	case nil:
		return time.Time{}, &TimestampParseError{Value: "<nil>", Cause: "no value"}
	default:
		return time.Time{}, &TimestampParseError{
			Value: fmt.Sprintf("%v", v),
			Cause: fmt.Sprintf("unsupported type %T", v),
		}
	}
}

// MustNormalize is Normalize for literals in tests and fixtures.
func MustNormalize(value any) time.Time {
	t, err := Normalize(value)
	if err != nil {
		panic(err)
	}
	return t
}

func fromTime(t time.Time) (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, &TimestampParseError{Value: t.String(), Cause: "zero time"}
	}
	return t.UTC(), nil
}

func parseString(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, &TimestampParseError{Value: raw, Cause: "empty string"}
	}

	for _, layout := range zonedLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}

	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, &TimestampParseError{
		Value: raw,
		Cause: fmt.Sprintf("tried %d ISO-8601 layouts", len(zonedLayouts)+len(naiveLayouts)),
	}
}

// AgeSeconds returns now - instant in seconds. Slightly negative results within
// SkewTolerance clamp to zero; anything further in the future is a ClockSkewError.
func AgeSeconds(instant, now time.Time) (float64, error) {
	diff := now.Sub(instant)
	if diff < -SkewTolerance {
		return 0, &ClockSkewError{Instant: instant, Now: now, Skew: -diff}
	}
	if diff < 0 {
		return 0, nil
	}
	return diff.Seconds(), nil
}

// FormatAge renders an age for log lines: seconds under a minute, minutes under
// an hour, hours beyond.
func FormatAge(seconds float64) string {
	switch {
	case math.IsNaN(seconds) || seconds < 0:
		return "n/a"
	case seconds < 60:
		return fmt.Sprintf("%.1fs", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fh", seconds/3600)
	}
}
