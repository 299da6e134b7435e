// Package timeperiod derives "similar period" grouping keys from
// timestamps. Two aggregation buckets with the same period key (for example
// every Wednesday between 10:00 and 11:00) are averaged together by the
// historic averages model.
package timeperiod

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Calendar units a similar-period key can be built from. Weekday is
// zero-based starting from Monday, matching the stored model rows.
const (
	UnitHour    = "hour"
	UnitWeekday = "weekday"
	UnitDay     = "day"
	UnitMonth   = "month"
)

// KeySeparator joins the unit values of a period key.
const KeySeparator = "_"

// unitValue extracts the integer value of one calendar unit.
func unitValue(unit string, t time.Time) (int, error) {
	switch unit {
	case UnitHour:
		return t.Hour(), nil
	case UnitWeekday:
		// time.Weekday starts from Sunday; model rows store Monday as 0.
		return (int(t.Weekday()) + 6) % 7, nil
	case UnitDay:
		return t.Day(), nil
	case UnitMonth:
		return int(t.Month()), nil
	default:
		return 0, fmt.Errorf("unknown calendar unit %q", unit)
	}
}

// ValidateUnits reports the first unknown calendar unit in the list.
func ValidateUnits(units []string) error {
	for _, u := range units {
		if _, err := unitValue(u, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// Key builds the similar-period key for t by extracting each unit value in
// order and joining them with underscores. The unit list must have been
// validated; unknown units contribute an empty component and will never
// match any stored row.
func Key(t time.Time, units []string) string {
	parts := make([]string, 0, len(units))
	for _, u := range units {
		v, err := unitValue(u, t)
		if err != nil {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, KeySeparator)
}

var weekdayNames = [7]string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// UnitPhrase renders one calendar unit value as the natural-language phrase
// used in incident descriptions.
func UnitPhrase(unit string, value int) string {
	switch unit {
	case UnitWeekday:
		if value >= 0 && value < len(weekdayNames) {
			return fmt.Sprintf("on %ss", weekdayNames[value])
		}
	case UnitHour:
		return fmt.Sprintf("between %02d:00 and %02d:00", value, value+1)
	case UnitMonth:
		if value >= 1 && value <= 12 {
			return fmt.Sprintf("in %s", time.Month(value).String())
		}
	}
	return strconv.Itoa(value)
}

// KeyPhrase renders a full period key as a space-joined phrase, pairing each
// key component with its calendar unit.
func KeyPhrase(key string, units []string) string {
	values := strings.Split(key, KeySeparator)
	phrases := make([]string, 0, len(values))
	for i, raw := range values {
		if i >= len(units) {
			break
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			phrases = append(phrases, raw)
			continue
		}
		phrases = append(phrases, UnitPhrase(units[i], v))
	}
	return strings.Join(phrases, " ")
}

// TruncateToBucket floors t to the start of its aggregation bucket. Bucket
// boundaries are aligned to the Unix epoch in UTC, the same alignment the
// aggregation queries use on millisecond timestamps.
func TruncateToBucket(t time.Time, aggMinutes int) time.Time {
	window := time.Duration(aggMinutes) * time.Minute
	ms := t.UnixMilli()
	ms -= ms % window.Milliseconds()
	return time.UnixMilli(ms).UTC()
}
