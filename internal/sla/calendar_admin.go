package sla

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrHolidayNotFound = errors.New("holiday not found")

type adminDB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// ListHours returns the stored weekday rules, working or not.
func ListHours(ctx context.Context, db adminDB) ([]Hours, error) {
	rows, err := db.Query(ctx, "select day_of_week, start_sec, end_sec, is_working_day from business_hours order by day_of_week")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Hours{}
	for rows.Next() {
		var h Hours
		var dow int
		if err := rows.Scan(&dow, &h.StartSec, &h.EndSec, &h.Working); err != nil {
			return nil, err
		}
		h.Day = time.Weekday(dow)
		out = append(out, h)
	}
	return out, rows.Err()
}

// ReplaceHours swaps the whole rule set in one statement. Days missing from
// hours are deleted and so become non-working.
func ReplaceHours(ctx context.Context, db adminDB, hours []Hours) error {
	if err := ValidateHours(hours); err != nil {
		return &ConfigurationError{Reason: err.Error()}
	}
	days := make([]int32, len(hours))
	starts := make([]int32, len(hours))
	ends := make([]int32, len(hours))
	working := make([]bool, len(hours))
	for i, h := range hours {
		days[i], starts[i], ends[i], working[i] = int32(h.Day), int32(h.StartSec), int32(h.EndSec), h.Working
	}
	const q = `with removed as (
  delete from business_hours where not (day_of_week = any($1::int[]))
)
insert into business_hours (day_of_week, start_sec, end_sec, is_working_day)
select * from unnest($1::int[], $2::int[], $3::int[], $4::bool[])
on conflict (day_of_week) do update
set start_sec = excluded.start_sec, end_sec = excluded.end_sec, is_working_day = excluded.is_working_day`
	_, err := db.Exec(ctx, q, days, starts, ends, working)
	return err
}

// ListHolidays returns stored holidays by date.
func ListHolidays(ctx context.Context, db adminDB) ([]Holiday, error) {
	rows, err := db.Query(ctx, "select date, name, is_recurring from holidays order by date")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Holiday{}
	for rows.Next() {
		var h Holiday
		if err := rows.Scan(&h.Date, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PutHoliday adds or renames the holiday on h.Date.
func PutHoliday(ctx context.Context, db adminDB, h Holiday) error {
	const q = `insert into holidays (date, name, is_recurring) values ($1, $2, $3)
on conflict (date) do update set name = excluded.name, is_recurring = excluded.is_recurring`
	_, err := db.Exec(ctx, q, dateOnly(h.Date), h.Name, h.Recurring)
	return err
}

func DeleteHoliday(ctx context.Context, db adminDB, date time.Time) error {
	tag, err := db.Exec(ctx, "delete from holidays where date=$1", dateOnly(date))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrHolidayNotFound
	}
	return nil
}

// dateOnly keeps the calendar date of t at midnight UTC for date columns.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
