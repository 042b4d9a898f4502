package quota

import "time"

// WindowStart truncates now to the containing window boundary in UTC:
// top of the hour, midnight, or the first of the month.
func WindowStart(now time.Time, p Period) time.Time {
	t := now.UTC()
	switch p {
	case PeriodHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// NextReset returns the start of the window following the one containing now.
func NextReset(now time.Time, p Period) time.Time {
	start := WindowStart(now, p)
	switch p {
	case PeriodHour:
		return start.Add(time.Hour)
	case PeriodDay:
		return start.AddDate(0, 0, 1)
	default:
		return start.AddDate(0, 1, 0)
	}
}
