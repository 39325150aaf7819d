package scheduler

import "time"

// Leap-day rules may wait almost eight years for a matching weekday.
const nextDueHorizonDays = 366 * 8

// NextDue returns the first due minute strictly after after, in the rule's
// location. It reports false when the rule never fires within the horizon,
// such as day 31 of February.
func NextDue(r *Rule, after time.Time) (time.Time, bool) {
	f := r.Frequency
	if f == nil {
		return time.Time{}, false
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	after = after.In(loc)
	y, m, d := after.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	for i := 0; i < nextDueHorizonDays; i++ {
		date := day.AddDate(0, 0, i)
		if !f.months[int(date.Month())] || !f.days[date.Day()] || !f.weekdays[int(date.Weekday())] {
			continue
		}
		for h := 0; h < 24; h++ {
			if !f.hours[h] {
				continue
			}
			for min := 0; min < 60; min++ {
				if !f.minutes[min] {
					continue
				}
				t := time.Date(date.Year(), date.Month(), date.Day(), h, min, 0, 0, loc)
				// Wall times inside a DST gap normalize to another hour.
				if t.After(after) && f.Match(t) {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}
