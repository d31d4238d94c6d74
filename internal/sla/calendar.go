package sla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const daySeconds = 24 * 3600

// Hours is the working window of one weekday, in seconds after local midnight.
type Hours struct {
	Day      time.Weekday `json:"day_of_week"`
	StartSec int          `json:"start_sec"`
	EndSec   int          `json:"end_sec"`
	Working  bool         `json:"is_working_day"`
}

// Holiday is a non-working date. Recurring holidays match on month and day
// in every year.
type Holiday struct {
	Date      time.Time `json:"date"`
	Name      string    `json:"name"`
	Recurring bool      `json:"is_recurring"`
}

type monthDay struct {
	month time.Month
	day   int
}

type Calendar struct {
	Location  *time.Location
	Hours     map[time.Weekday]Hours
	Holidays  map[time.Time]struct{}
	recurring map[monthDay]struct{}
}

// NewCalendar builds a calendar in loc from weekday rules and holidays.
// Non-working rules are kept out of the hours map.
func NewCalendar(loc *time.Location, hours []Hours, holidays []Holiday) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	cal := &Calendar{
		Location:  loc,
		Hours:     make(map[time.Weekday]Hours),
		Holidays:  make(map[time.Time]struct{}),
		recurring: make(map[monthDay]struct{}),
	}
	for _, h := range hours {
		if h.Working {
			cal.Hours[h.Day] = h
		}
	}
	for _, h := range holidays {
		cal.AddHoliday(h)
	}
	return cal
}

// AddHoliday normalizes the holiday's date to midnight in the calendar zone.
func (c *Calendar) AddHoliday(h Holiday) {
	if c.Holidays == nil {
		c.Holidays = make(map[time.Time]struct{})
	}
	if c.recurring == nil {
		c.recurring = make(map[monthDay]struct{})
	}
	if h.Recurring {
		c.recurring[monthDay{h.Date.Month(), h.Date.Day()}] = struct{}{}
		return
	}
	day := time.Date(h.Date.Year(), h.Date.Month(), h.Date.Day(), 0, 0, 0, 0, c.Location)
	c.Holidays[day] = struct{}{}
}

// ValidateHours rejects rule sets that cannot be stored: duplicate weekdays,
// out-of-range days or times, and working days whose start is not before end.
func ValidateHours(hours []Hours) error {
	seen := map[time.Weekday]bool{}
	for _, h := range hours {
		if h.Day < time.Sunday || h.Day > time.Saturday {
			return fmt.Errorf("day_of_week %d out of range", h.Day)
		}
		if seen[h.Day] {
			return fmt.Errorf("duplicate rule for %s", h.Day)
		}
		seen[h.Day] = true
		if !h.Working {
			continue
		}
		if h.StartSec < 0 || h.EndSec > daySeconds {
			return fmt.Errorf("%s hours outside the day", h.Day)
		}
		if h.StartSec >= h.EndSec {
			return fmt.Errorf("%s start must be before end", h.Day)
		}
	}
	return nil
}

// LoadCalendar reads the business hours and holidays tables into a calendar
// pinned to loc.
func LoadCalendar(ctx context.Context, db DB, loc *time.Location) (*Calendar, error) {
	cal := NewCalendar(loc, nil, nil)
	rows, err := db.Query(ctx, "select day_of_week, start_sec, end_sec, is_working_day from business_hours")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dow, start, end int
		var working bool
		if err := rows.Scan(&dow, &start, &end, &working); err != nil {
			return nil, err
		}
		if working {
			cal.Hours[time.Weekday(dow)] = Hours{Day: time.Weekday(dow), StartSec: start, EndSec: end, Working: true}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	hrows, err := db.Query(ctx, "select date, name, is_recurring from holidays")
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var h Holiday
		if err := hrows.Scan(&h.Date, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		cal.AddHoliday(h)
	}
	return cal, hrows.Err()
}

func (c *Calendar) isHoliday(dayStart time.Time) bool {
	if _, ok := c.Holidays[dayStart]; ok {
		return true
	}
	_, ok := c.recurring[monthDay{dayStart.Month(), dayStart.Day()}]
	return ok
}

// window returns the working window of the local day starting at dayStart.
func (c *Calendar) window(dayStart time.Time) (time.Time, time.Time, bool) {
	if c.isHoliday(dayStart) {
		return time.Time{}, time.Time{}, false
	}
	hrs, ok := c.Hours[dayStart.Weekday()]
	if !ok || !hrs.Working {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := dayStart.Date()
	return time.Date(y, m, d, 0, 0, hrs.StartSec, 0, c.Location),
		time.Date(y, m, d, 0, 0, hrs.EndSec, 0, c.Location), true
}

// IsWorkingInstant reports whether t falls inside a working window.
func (c *Calendar) IsWorkingInstant(t time.Time) bool {
	t = t.In(c.Location)
	start, end, ok := c.window(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.Location))
	if !ok {
		return false
	}
	return !t.Before(start) && t.Before(end)
}

// NextWindow returns the first working interval ending after from, clipped so
// it starts no earlier than from. Days up to limit are searched.
func (c *Calendar) NextWindow(from, limit time.Time) (time.Time, time.Time, bool) {
	from = from.In(c.Location)
	y, m, d := from.Date()
	for i := 0; ; i++ {
		dayStart := time.Date(y, m, d+i, 0, 0, 0, 0, c.Location)
		if dayStart.After(limit) {
			return time.Time{}, time.Time{}, false
		}
		start, end, ok := c.window(dayStart)
		if !ok || !end.After(from) {
			continue
		}
		if start.Before(from) {
			start = from
		}
		return start, end, true
	}
}

// BusinessDuration reports the working time between start and end.
func (c *Calendar) BusinessDuration(start, end time.Time) time.Duration {
	if end.Before(start) {
		start, end = end, start
	}
	total := time.Duration(0)
	cur := start
	for cur.Before(end) {
		ws, we, ok := c.NextWindow(cur, end)
		if !ok || !ws.Before(end) {
			break
		}
		e := minTime(end, we)
		total += e.Sub(ws)
		cur = e
	}
	return total
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// CalendarSource supplies the calendar used for business-hours policies.
type CalendarSource interface {
	Calendar(ctx context.Context) (*Calendar, error)
}

// StaticCalendar serves a fixed calendar.
type StaticCalendar struct{ Cal *Calendar }

func (s StaticCalendar) Calendar(context.Context) (*Calendar, error) { return s.Cal, nil }

// CalendarLoader caches the database calendar for TTL. Invalidate forces the
// next call to reload, and is used after configuration writes.
type CalendarLoader struct {
	DB       DB
	Location *time.Location
	TTL      time.Duration

	mu       sync.Mutex
	cal      *Calendar
	loadedAt time.Time
	now      func() time.Time
}

func (l *CalendarLoader) Calendar(ctx context.Context) (*Calendar, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	if l.cal != nil && (l.TTL <= 0 || now().Sub(l.loadedAt) < l.TTL) {
		return l.cal, nil
	}
	cal, err := LoadCalendar(ctx, l.DB, l.Location)
	if err != nil {
		return nil, err
	}
	l.cal = cal
	l.loadedAt = now()
	return cal, nil
}

func (l *CalendarLoader) Invalidate() {
	l.mu.Lock()
	l.cal = nil
	l.mu.Unlock()
}
