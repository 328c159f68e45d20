// Package rates picks the annual interest rate in force at a date and keeps
// a memoized copy of the published rate history.
package rates

import (
	"fmt"

	"financas/internal/core"
)

// Policy resolves lookups where several records contain the date.
type Policy int

const (
	// FirstMatch keeps the first containing record in input order.
	FirstMatch Policy = iota
	// MostRecentStart keeps the containing record with the latest start.
	MostRecentStart
)

func (p Policy) String() string {
	switch p {
	case FirstMatch:
		return "first_match"
	case MostRecentStart:
		return "most_recent_start"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "first_match":
		return FirstMatch, nil
	case "most_recent_start":
		return MostRecentStart, nil
	default:
		return FirstMatch, fmt.Errorf("unknown rate lookup policy %q", s)
	}
}

// Contains reports whether d falls strictly inside the record's interval.
// Both bounds are exclusive: a rate never applies on its own start day.
func Contains(r core.RateRecord, d core.Date) bool {
	return r.EffectiveStart.Before(d) && d.Before(r.EffectiveEnd)
}

// Matches returns every record containing d, in input order.
func Matches(records []core.RateRecord, d core.Date) []core.RateRecord {
	var out []core.RateRecord
	for _, r := range records {
		if Contains(r, d) {
			out = append(out, r)
		}
	}
	return out
}

// Lookup returns the record in force at d. Records need not be sorted.
// When several records match, the first one in input order wins.
func Lookup(records []core.RateRecord, d core.Date) (core.RateRecord, error) {
	return LookupWith(FirstMatch, records, d)
}

// LookupWith is Lookup with an explicit resolution policy.
func LookupWith(policy Policy, records []core.RateRecord, d core.Date) (core.RateRecord, error) {
	matches := Matches(records, d)
	if len(matches) == 0 {
		return core.RateRecord{}, fmt.Errorf("%w: %s", core.ErrNoApplicableRate, d)
	}

	best := matches[0]
	if policy == MostRecentStart {
		for _, r := range matches[1:] {
			if r.EffectiveStart.After(best.EffectiveStart) {
				best = r
			}
		}
	}
	return best, nil
}
