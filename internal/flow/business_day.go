package flow

import "time"

// DefaultDueHour is the local hour new tasks are due at.
const DefaultDueHour = 9

// NextBusinessDay returns the next Monday–Friday date strictly after now, at hour:00 in
// now's location. Friday moves three days ahead, Saturday two, every other day one.
func NextBusinessDay(now time.Time, hour int) time.Time {
	days := 1
	switch now.Weekday() {
	case time.Friday:
		days = 3
	case time.Saturday:
		days = 2
	}
	d := now.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, now.Location())
}
