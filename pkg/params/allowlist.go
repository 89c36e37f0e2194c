package params

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// AllowList matches usage types against a set of configured entries.
//
// Entries are compared literally first, then as doublestar globs, so a list
// like "USW2-BoxUsage,*-DataTransfer-Out-Bytes" selects one exact type plus
// a family of transfer types. A nil *AllowList means "allow everything".
type AllowList struct {
	entries []string
}

// ParseAllowList parses a comma-separated allow-list value.
//
// Returns nil (allow all) for empty input or the "*" wildcard. Entries that
// are not valid glob patterns make the whole list invalid, since silently
// dropping an entry would widen or narrow the selection unpredictably.
func ParseAllowList(v string) (*AllowList, error) {
	if strings.TrimSpace(v) == wildcardAll {
		return nil, nil
	}

	entries := splitList(v)
	if len(entries) == 0 {
		return nil, nil
	}
	for _, e := range entries {
		if !doublestar.ValidatePattern(e) {
			return nil, fmt.Errorf("invalid allow-list pattern %q", e)
		}
	}
	return &AllowList{entries: entries}, nil
}

// Match reports whether the usage type is selected by the list.
// A nil receiver allows everything.
func (a *AllowList) Match(usageType string) bool {
	if a == nil {
		return true
	}
	for _, e := range a.entries {
		if e == usageType {
			return true
		}
		if ok, err := doublestar.Match(e, usageType); err == nil && ok {
			return true
		}
	}
	return false
}

// Len returns the number of entries (0 for the allow-all list).
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}
