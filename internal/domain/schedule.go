package domain

import (
	"fmt"
	"time"
)

// Progress is the loop state threaded through the catch-up controller. Values are
// never mutated in place; Advance returns the next one.
type Progress struct {
	NextDueDate    time.Time
	ExecutionCount int
	Status         Status
}

// Due reports whether another occurrence must be materialized for today.
func (p Progress) Due(today time.Time) bool {
	return p.Status == StatusActive && !DateOf(p.NextDueDate).After(DateOf(today))
}

// Advance consumes the occurrence at p.NextDueDate: the count goes up by one, the due
// date moves forward by the definition's frequency and the status completes once
// total_occurrences is reached.
func Advance(def Definition, p Progress) (Progress, error) {
	next, err := NextDueDate(p.NextDueDate, def.Frequency, def.DayOfMonth)
	if err != nil {
		return p, err
	}

	out := Progress{
		NextDueDate:    next,
		ExecutionCount: p.ExecutionCount + 1,
		Status:         p.Status,
	}
	if def.TotalOccurrences != nil && out.ExecutionCount >= *def.TotalOccurrences {
		out.Status = StatusCompleted
	}
	return out, nil
}

// NextDueDate applies the frequency rule to current.
//
// Monthly moves to the next calendar month and lands on min(anchor, days in month),
// where the anchor is dayOfMonth when set and the current day otherwise. Yearly keeps
// the month and clamps Feb 29 to Feb 28 in non-leap years.
func NextDueDate(current time.Time, freq Frequency, dayOfMonth *int) (time.Time, error) {
	current = DateOf(current)
	switch freq {
	case FrequencyDaily:
		return current.AddDate(0, 0, 1), nil
	case FrequencyWeekly:
		return current.AddDate(0, 0, 7), nil
	case FrequencyYearly:
		return clampedDate(current.Year()+1, current.Month(), current.Day()), nil
	case FrequencyMonthly:
		anchor := current.Day()
		if dayOfMonth != nil && *dayOfMonth > 0 {
			anchor = *dayOfMonth
		}
		year, month := current.Year(), current.Month()+1
		if month > time.December {
			year, month = year+1, time.January
		}
		return clampedDate(year, month, anchor), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupportedFrequency, freq)
	}
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampedDate(year int, month time.Month, day int) time.Time {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
