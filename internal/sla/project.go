package sla

import (
	"fmt"
	"time"
)

// Lookahead bounds the search for the next working window. A calendar with no
// working time inside it is a configuration error.
const Lookahead = 3 * 366 * 24 * time.Hour

// Project returns the instant at which minutes of SLA time have elapsed after
// start. With a nil calendar the minutes are wall-clock minutes; otherwise only
// time inside the calendar's working windows counts.
func Project(start time.Time, minutes int, cal *Calendar) (time.Time, error) {
	if minutes < 0 {
		return time.Time{}, fmt.Errorf("%w: %d minutes", ErrInvalidDuration, minutes)
	}
	if minutes == 0 {
		return start, nil
	}
	remaining := time.Duration(minutes) * time.Minute
	if cal == nil {
		return start.Add(remaining), nil
	}
	cursor := start
	for {
		ws, we, ok := cal.NextWindow(cursor, cursor.Add(Lookahead))
		if !ok {
			return time.Time{}, &ConfigurationError{
				Reason: fmt.Sprintf("no working time within %d days after %s", int(Lookahead.Hours()/24), cursor.Format(time.RFC3339)),
			}
		}
		avail := we.Sub(ws)
		if remaining <= avail {
			return ws.Add(remaining).In(start.Location()), nil
		}
		remaining -= avail
		cursor = we
	}
}

// ceilMinutes rounds an elapsed duration up to whole minutes. Negative
// durations count as zero.
func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	m := d / time.Minute
	if d%time.Minute != 0 {
		m++
	}
	return int(m)
}
