package cron

import "time"

// matchesDayConstraints handles the special day-of-month vs day-of-week logic
//
// Cron standard behavior:
// - If both day-of-month and day-of-week are restricted (not *): match if EITHER matches (OR logic)
// - If only one is restricted: match on that field only
// - If both are *: match any day
func (s *Schedule) matchesDayConstraints(t time.Time) bool {
	domRestricted := len(s.daysOfMonth) < 31
	dowRestricted := len(s.daysOfWeek) < 7

	switch {
	case domRestricted && dowRestricted:
		domMatch := contains(s.daysOfMonth, t.Day()) && isValidDate(t.Year(), int(t.Month()), t.Day())
		dowMatch := contains(s.daysOfWeek, int(t.Weekday()))
		return domMatch || dowMatch
	case domRestricted:
		return contains(s.daysOfMonth, t.Day()) && isValidDate(t.Year(), int(t.Month()), t.Day())
	case dowRestricted:
		return contains(s.daysOfWeek, int(t.Weekday()))
	}

	return isValidDate(t.Year(), int(t.Month()), t.Day())
}

func contains(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}
