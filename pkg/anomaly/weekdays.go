package anomaly

import (
	"strconv"
	"strings"
	"time"
)

// Weekdays is a set of active weekdays, numbered Sunday=1 through Saturday=7.
//
// The zero value (or an empty set) means "all days are active", which keeps
// the unset-configuration path equivalent to no filtering at all.
type Weekdays struct {
	days map[int]bool
}

// AllWeekdays returns the unrestricted set.
func AllWeekdays() Weekdays {
	return Weekdays{}
}

// ParseWeekdays parses a comma-separated list of day numbers (1-7).
//
// Entries outside 1-7 are dropped. An empty or entirely invalid list yields
// the unrestricted set, so a malformed parameter degrades to "all days"
// rather than disabling the schedule.
func ParseWeekdays(s string) Weekdays {
	days := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > 7 {
			continue
		}
		days[n] = true
	}
	if len(days) == 0 {
		return Weekdays{}
	}
	return Weekdays{days: days}
}

// Restricted reports whether the set excludes any day.
func (w Weekdays) Restricted() bool {
	return len(w.days) > 0 && len(w.days) < 7
}

// Count returns the number of active days (7 for the unrestricted set).
func (w Weekdays) Count() int {
	if len(w.days) == 0 {
		return 7
	}
	return len(w.days)
}

// Contains reports whether the given time's weekday is active.
func (w Weekdays) Contains(t time.Time) bool {
	if len(w.days) == 0 {
		return true
	}
	return w.days[int(t.Weekday())+1]
}

// ExtendedLookback widens a lookback window to compensate for excluded
// weekdays: with 5 of 7 days active, each week of lookback needs 2 extra
// calendar days to retain the same number of usable points.
func ExtendedLookback(days int, w Weekdays) int {
	return days + (days/7)*(7-w.Count())
}
