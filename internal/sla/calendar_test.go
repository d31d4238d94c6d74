package sla

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func weekdayHours(start, end int) []Hours {
	out := []Hours{}
	for d := time.Monday; d <= time.Friday; d++ {
		out = append(out, Hours{Day: d, StartSec: start, EndSec: end, Working: true})
	}
	return out
}

func testCalendar() *Calendar {
	loc, _ := time.LoadLocation("America/New_York")
	return NewCalendar(loc, weekdayHours(9*3600, 17*3600), nil)
}

func TestBusinessDurationBasic(t *testing.T) {
	cal := testCalendar()
	loc := cal.Location
	start := time.Date(2024, 7, 1, 16, 0, 0, 0, loc) // Mon 4pm
	end := time.Date(2024, 7, 2, 10, 0, 0, 0, loc)   // Tue 10am
	d := cal.BusinessDuration(start, end)
	if d != 2*time.Hour {
		t.Fatalf("expected 2h got %v", d)
	}
}

func TestBusinessDurationHoliday(t *testing.T) {
	cal := testCalendar()
	loc := cal.Location
	cal.AddHoliday(Holiday{Date: time.Date(2024, 7, 4, 0, 0, 0, 0, loc), Name: "Independence Day"})
	start := time.Date(2024, 7, 3, 16, 0, 0, 0, loc)
	end := time.Date(2024, 7, 5, 10, 0, 0, 0, loc)
	d := cal.BusinessDuration(start, end)
	if d != 2*time.Hour {
		t.Fatalf("expected 2h got %v", d)
	}
}

func TestIsWorkingInstant(t *testing.T) {
	cal := testCalendar()
	loc := cal.Location
	cal.AddHoliday(Holiday{Date: time.Date(2020, 12, 25, 0, 0, 0, 0, time.UTC), Name: "Christmas", Recurring: true})
	cal.AddHoliday(Holiday{Date: time.Date(2024, 7, 4, 0, 0, 0, 0, loc), Name: "Independence Day"})

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"opening instant", time.Date(2024, 7, 1, 9, 0, 0, 0, loc), true},
		{"before open", time.Date(2024, 7, 1, 8, 59, 59, 0, loc), false},
		{"closing instant excluded", time.Date(2024, 7, 1, 17, 0, 0, 0, loc), false},
		{"saturday", time.Date(2024, 7, 6, 12, 0, 0, 0, loc), false},
		{"exact holiday", time.Date(2024, 7, 4, 12, 0, 0, 0, loc), false},
		{"same date next year is working", time.Date(2025, 7, 4, 12, 0, 0, 0, loc), true},
		{"recurring holiday other year", time.Date(2024, 12, 25, 12, 0, 0, 0, loc), false},
		{"converted to calendar zone", time.Date(2024, 7, 1, 13, 30, 0, 0, time.UTC), true},
		{"utc evening is local working", time.Date(2024, 7, 1, 20, 30, 0, 0, time.UTC), true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := cal.IsWorkingInstant(tt.at); got != tt.want {
				t.Fatalf("IsWorkingInstant(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestMissingRuleIsNonWorking(t *testing.T) {
	cal := NewCalendar(time.UTC, []Hours{
		{Day: time.Monday, StartSec: 9 * 3600, EndSec: 17 * 3600, Working: true},
		{Day: time.Tuesday, StartSec: 9 * 3600, EndSec: 17 * 3600, Working: false},
	}, nil)
	tue := time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC)
	wed := time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)
	if cal.IsWorkingInstant(tue) || cal.IsWorkingInstant(wed) {
		t.Fatalf("expected non-working for disabled and missing rules")
	}
}

func TestValidateHours(t *testing.T) {
	cases := []struct {
		name    string
		hours   []Hours
		wantErr bool
	}{
		{"weekdays", weekdayHours(9*3600, 17*3600), false},
		{"whole day", []Hours{{Day: time.Sunday, StartSec: 0, EndSec: 24 * 3600, Working: true}}, false},
		{"non-working ignores times", []Hours{{Day: time.Sunday, StartSec: 5, EndSec: 1}}, false},
		{"start after end", []Hours{{Day: time.Monday, StartSec: 18 * 3600, EndSec: 9 * 3600, Working: true}}, true},
		{"empty window", []Hours{{Day: time.Monday, StartSec: 9 * 3600, EndSec: 9 * 3600, Working: true}}, true},
		{"past midnight", []Hours{{Day: time.Monday, StartSec: 9 * 3600, EndSec: 25 * 3600, Working: true}}, true},
		{"duplicate day", append(weekdayHours(9*3600, 17*3600), Hours{Day: time.Monday, StartSec: 0, EndSec: 10, Working: true}), true},
		{"bad day", []Hours{{Day: time.Weekday(7), StartSec: 0, EndSec: 10, Working: true}}, true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHours(tt.hours)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateHours err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type rowFunc func(dest ...any) error

type fakeRow struct{ f rowFunc }

func (r fakeRow) Scan(dest ...any) error { return r.f(dest...) }

type fakeRows struct {
	data [][]any
	i    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { return r.i < len(r.data) }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i]
	r.i++
	for i := range dest {
		switch d := dest[i].(type) {
		case *int:
			*d = row[i].(int)
		case *bool:
			*d = row[i].(bool)
		case *string:
			*d = row[i].(string)
		case *time.Time:
			*d = row[i].(time.Time)
		}
	}
	return nil
}

type calendarDB struct {
	hours    [][]any
	holidays [][]any
	queries  int
}

func (db *calendarDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	db.queries++
	switch sql {
	case "select day_of_week, start_sec, end_sec, is_working_day from business_hours":
		return &fakeRows{data: db.hours}, nil
	case "select date, name, is_recurring from holidays":
		return &fakeRows{data: db.holidays}, nil
	}
	return &fakeRows{}, nil
}

func (db *calendarDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return fakeRow{f: func(dest ...any) error { return pgx.ErrNoRows }}
}

func TestLoadCalendar(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	cases := []struct {
		name     string
		db       *calendarDB
		validate func(t *testing.T, cal *Calendar)
	}{
		{
			name: "normalizes holidays",
			db: &calendarDB{
				hours: [][]any{{int(time.Monday), 9 * 3600, 17 * 3600, true}},
				holidays: [][]any{{
					time.Date(2024, 7, 4, 15, 30, 0, 0, time.UTC), "Independence Day", false, // not midnight
				}},
			},
			validate: func(t *testing.T, cal *Calendar) {
				day := time.Date(2024, 7, 4, 0, 0, 0, 0, cal.Location)
				if _, ok := cal.Holidays[day]; !ok {
					t.Fatalf("expected holiday to be normalized")
				}
			},
		},
		{
			name: "loads varying business hours",
			db: &calendarDB{
				hours: [][]any{
					{int(time.Monday), 8 * 3600, 12 * 3600, true},
					{int(time.Tuesday), 10 * 3600, 15 * 3600, true},
					{int(time.Wednesday), 10 * 3600, 15 * 3600, false},
				},
			},
			validate: func(t *testing.T, cal *Calendar) {
				m := cal.Hours[time.Monday]
				if m.StartSec != 8*3600 || m.EndSec != 12*3600 {
					t.Fatalf("unexpected Monday hours: %+v", m)
				}
				tu := cal.Hours[time.Tuesday]
				if tu.StartSec != 10*3600 || tu.EndSec != 15*3600 {
					t.Fatalf("unexpected Tuesday hours: %+v", tu)
				}
				if _, ok := cal.Hours[time.Wednesday]; ok {
					t.Fatalf("non-working Wednesday should not be loaded")
				}
			},
		},
		{
			name: "recurring holidays",
			db: &calendarDB{
				hours:    [][]any{{int(time.Wednesday), 9 * 3600, 17 * 3600, true}},
				holidays: [][]any{{time.Date(1999, 12, 25, 0, 0, 0, 0, time.UTC), "Christmas", true}},
			},
			validate: func(t *testing.T, cal *Calendar) {
				if cal.IsWorkingInstant(time.Date(2024, 12, 25, 10, 0, 0, 0, cal.Location)) {
					t.Fatalf("expected recurring holiday to apply in 2024")
				}
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cal, err := LoadCalendar(context.Background(), tt.db, loc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cal.Location == nil || cal.Location.String() == "" {
				t.Fatalf("expected location to be set")
			}
			tt.validate(t, cal)
		})
	}
}

func TestCalendarLoaderCaches(t *testing.T) {
	db := &calendarDB{hours: [][]any{{int(time.Monday), 9 * 3600, 17 * 3600, true}}}
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	l := &CalendarLoader{DB: db, Location: time.UTC, TTL: time.Minute, now: func() time.Time { return now }}

	for i := 0; i < 3; i++ {
		if _, err := l.Calendar(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if db.queries != 2 {
		t.Fatalf("expected one load (2 queries), got %d queries", db.queries)
	}
	now = now.Add(2 * time.Minute)
	if _, err := l.Calendar(context.Background()); err != nil {
		t.Fatal(err)
	}
	if db.queries != 4 {
		t.Fatalf("expected reload after ttl, got %d queries", db.queries)
	}
	l.Invalidate()
	if _, err := l.Calendar(context.Background()); err != nil {
		t.Fatal(err)
	}
	if db.queries != 6 {
		t.Fatalf("expected reload after invalidate, got %d queries", db.queries)
	}
}
