package rollout

import "time"

// dateOf truncates to the UTC calendar day.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// isoWeekOrd flattens an ISO year/week pair into one comparable ordinal.
func isoWeekOrd(t time.Time) int {
	year, week := t.ISOWeek()
	return year*100 + week
}

// rolloutDays lays out the candidate rollout days: up to fourteen
// consecutive calendar days from start with weekends dropped, truncated
// inclusively at the first day that falls in a later ISO week than start
// and after today.
func rolloutDays(start, today time.Time) []time.Time {
	start = dateOf(start)
	today = dateOf(today)
	startWeek := isoWeekOrd(start)

	var out []time.Time
	for i := 0; i < 14; i++ {
		d := start.AddDate(0, 0, i)
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, d)
		if isoWeekOrd(d) > startWeek && d.After(today) {
			break
		}
	}
	return out
}

// remainingDays filters the layout down to days not yet in the past.
func remainingDays(days []time.Time, today time.Time) []time.Time {
	today = dateOf(today)
	var out []time.Time
	for _, d := range days {
		if !d.Before(today) {
			out = append(out, d)
		}
	}
	return out
}
