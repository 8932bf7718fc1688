package cron

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// parse parses a cron expression into a Schedule
func parse(expr string) (*Schedule, error) {
	original := strings.TrimSpace(expr)
	if strings.HasPrefix(original, "@") {
		expanded, ok := descriptors[original]
		if !ok {
			return nil, fmt.Errorf("invalid cron expression: unknown descriptor %q", original)
		}
		expr = expanded
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}

	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}

	daysOfMonth, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}

	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}

	daysOfWeek, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}

	if err := validateImpossibleDates(daysOfMonth, months); err != nil {
		return nil, err
	}

	return &Schedule{
		minutes:     minutes,
		hours:       hours,
		daysOfMonth: daysOfMonth,
		months:      months,
		daysOfWeek:  daysOfWeek,
		expr:        original,
	}, nil
}

// parseField parses a single cron field. Lists may contain ranges and steps.
func parseField(field string, min, max int) ([]int, error) {
	if field == "" {
		return nil, fmt.Errorf("empty field")
	}

	result := []int{}
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return nil, fmt.Errorf("empty value in list")
		}

		vals, err := parseTerm(part, min, max)
		if err != nil {
			return nil, err
		}
		result = append(result, vals...)
	}

	sort.Ints(result)
	return deduplicate(result), nil
}

// parseTerm parses one list element: *, N, M-N, */S or M-N/S
func parseTerm(term string, min, max int) ([]int, error) {
	base, stepStr, hasStep := strings.Cut(term, "/")

	var vals []int
	var err error
	switch {
	case base == "*":
		vals = expandRange(min, max)
	case strings.Contains(base, "-"):
		vals, err = parseRange(base, min, max)
	case hasStep:
		return nil, fmt.Errorf("invalid step range %q", base)
	default:
		vals, err = parseSingle(base, min, max)
	}
	if err != nil {
		return nil, err
	}

	if !hasStep {
		return vals, nil
	}

	step, err := strconv.Atoi(stepStr)
	if err != nil {
		return nil, fmt.Errorf("invalid step value: %w", err)
	}
	if step <= 0 {
		return nil, fmt.Errorf("step must be greater than 0")
	}

	stepped := []int{}
	for i := 0; i < len(vals); i += step {
		stepped = append(stepped, vals[i])
	}
	return stepped, nil
}

// expandRange returns all values from min to max inclusive
func expandRange(min, max int) []int {
	result := make([]int, max-min+1)
	for i := range result {
		result[i] = min + i
	}
	return result
}

// parseRange parses a range like 1-5
func parseRange(field string, min, max int) ([]int, error) {
	startStr, endStr, _ := strings.Cut(field, "-")
	if strings.Contains(endStr, "-") {
		return nil, fmt.Errorf("invalid range syntax")
	}

	start, err := strconv.Atoi(startStr)
	if err != nil {
		return nil, fmt.Errorf("invalid range start: %w", err)
	}

	end, err := strconv.Atoi(endStr)
	if err != nil {
		return nil, fmt.Errorf("invalid range end: %w", err)
	}

	if start < min || start > max {
		return nil, fmt.Errorf("range start %d out of bounds [%d, %d]", start, min, max)
	}
	if end < min || end > max {
		return nil, fmt.Errorf("range end %d out of bounds [%d, %d]", end, min, max)
	}
	if start > end {
		return nil, fmt.Errorf("invalid range: start %d > end %d", start, end)
	}

	return expandRange(start, end), nil
}

// parseSingle parses a single integer value
func parseSingle(field string, min, max int) ([]int, error) {
	val, err := strconv.Atoi(field)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}

	if val < min || val > max {
		return nil, fmt.Errorf("value %d out of bounds [%d, %d]", val, min, max)
	}

	return []int{val}, nil
}

// deduplicate removes duplicate values from a sorted slice
func deduplicate(vals []int) []int {
	if len(vals) == 0 {
		return vals
	}

	result := []int{vals[0]}
	for i := 1; i < len(vals); i++ {
		if vals[i] != vals[i-1] {
			result = append(result, vals[i])
		}
	}
	return result
}

// validateImpossibleDates only errors if the schedule can never run
func validateImpossibleDates(daysOfMonth, months []int) error {
	for _, month := range months {
		maxDay := daysInMonth(month)
		for _, day := range daysOfMonth {
			if day <= maxDay {
				return nil
			}
		}
	}
	return fmt.Errorf("impossible date: no valid days exist for specified days %v in months %v", daysOfMonth, months)
}

// daysInMonth returns the maximum number of days in a given month, allowing Feb 29
func daysInMonth(month int) int {
	switch month {
	case 2:
		return 29
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// isValidDate handles Feb 29 in non-leap years
func isValidDate(year, month, day int) bool {
	if month == 2 && day == 29 {
		return isLeapYear(year)
	}
	return day <= daysInMonth(month)
}
