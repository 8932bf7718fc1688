package cron

import (
	"time"
)

// maxSearch bounds Next for schedules that only fire on rare dates (Feb 29)
const maxSearch = 5 * 366 * 24 * time.Hour

// Schedule represents a parsed cron expression
type Schedule struct {
	// Each field stores all valid values for that field
	minutes     []int // 0-59
	hours       []int // 0-23
	daysOfMonth []int // 1-31
	months      []int // 1-12
	daysOfWeek  []int // 0-6 (0=Sunday)

	expr string
}

// Parse parses a 5-field cron expression or one of the descriptors
// @yearly, @annually, @monthly, @weekly, @daily, @midnight, @hourly.
// Returns error if:
// - Format is invalid (not 5 fields)
// - Any field contains invalid syntax
// - Impossible dates are specified (e.g., Feb 31st)
func Parse(expr string) (*Schedule, error) {
	return parse(expr)
}

// String returns the expression the schedule was parsed from
func (s *Schedule) String() string {
	return s.expr
}

// Next returns the first occurrence strictly after the given time, evaluated in
// after's location. Returns the zero time if nothing matches within five years.
func (s *Schedule) Next(after time.Time) time.Time {
	current := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(maxSearch)

	for current.Before(limit) {
		if !contains(s.months, int(current.Month())) || !s.matchesDayConstraints(current) {
			// Jump to the next midnight
			y, m, d := current.Date()
			current = time.Date(y, m, d+1, 0, 0, 0, 0, current.Location())
			continue
		}
		if !contains(s.hours, current.Hour()) {
			// Step on the wall clock; half-hour offset zones never reach
			// minute 0 through Truncate
			y, m, d := current.Date()
			next := time.Date(y, m, d, current.Hour()+1, 0, 0, 0, current.Location())
			if !next.After(current) {
				// DST transitions may normalize backwards
				next = current.Add(time.Hour)
			}
			current = next
			continue
		}
		if contains(s.minutes, current.Minute()) {
			return current
		}
		current = current.Add(time.Minute)
	}

	return time.Time{}
}

// NextN calculates the next count occurrences of this schedule after the given time
// "After" means strictly after - if 'after' is exactly at a scheduled time, that time is NOT included
func (s *Schedule) NextN(after time.Time, count int) []time.Time {
	results := make([]time.Time, 0, count)

	current := after
	for len(results) < count {
		next := s.Next(current)
		if next.IsZero() {
			break
		}
		results = append(results, next)
		current = next
	}

	return results
}

// Between calculates all occurrences within the given time window [start, end)
// Start is inclusive, end is exclusive
func (s *Schedule) Between(start, end time.Time) []time.Time {
	results := []time.Time{}

	// Step back one minute so that a start exactly on an occurrence is included
	current := start.Truncate(time.Minute).Add(-time.Minute)
	for {
		next := s.Next(current)
		if next.IsZero() || !next.Before(end) {
			break
		}
		results = append(results, next)
		current = next
	}

	return results
}
