package sla

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execDB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore keeps one ticket_sla_states row per ticket with the pause history
// as JSONB. Breach flags are or-ed on write so the table never clears one.
type PGStore struct {
	DB execDB
}

const stateCols = `ticket_id, coalesce(policy_id::text,''), business_hours_only, status, created_at, first_response_at, resolved_at,
response_due_at, resolution_due_at, response_breached, resolution_breached, pause_history, total_paused_minutes, currently_paused`

func (p *PGStore) Create(ctx context.Context, st *TicketState) error {
	hist, err := json.Marshal(st.PauseHistory)
	if err != nil {
		return err
	}
	const q = `insert into ticket_sla_states (ticket_id, policy_id, business_hours_only, status, created_at, first_response_at, resolved_at,
response_due_at, resolution_due_at, response_breached, resolution_breached, pause_history, total_paused_minutes, currently_paused, paused_since)
values ($1, nullif($2,'')::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
on conflict (ticket_id) do nothing`
	tag, err := p.DB.Exec(ctx, q, st.TicketID, st.PolicyID, st.BusinessHoursOnly, string(st.Status), st.CreatedAt, st.FirstResponseAt, st.ResolvedAt,
		st.ResponseDueAt, st.ResolutionDueAt, st.ResponseBreached, st.ResolutionBreached, hist, st.TotalPausedMinutes, st.CurrentlyPaused, st.pausedSince())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStateExists
	}
	return nil
}

func (p *PGStore) Get(ctx context.Context, ticketID string) (*TicketState, error) {
	var st TicketState
	var status string
	var hist []byte
	err := p.DB.QueryRow(ctx, `select `+stateCols+` from ticket_sla_states where ticket_id=$1`, ticketID).Scan(
		&st.TicketID, &st.PolicyID, &st.BusinessHoursOnly, &status, &st.CreatedAt, &st.FirstResponseAt, &st.ResolvedAt,
		&st.ResponseDueAt, &st.ResolutionDueAt, &st.ResponseBreached, &st.ResolutionBreached, &hist, &st.TotalPausedMinutes, &st.CurrentlyPaused)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	st.Status = Status(status)
	st.PauseHistory = []PauseEntry{}
	if len(hist) > 0 {
		if err := json.Unmarshal(hist, &st.PauseHistory); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

func (p *PGStore) Save(ctx context.Context, st *TicketState) error {
	hist, err := json.Marshal(st.PauseHistory)
	if err != nil {
		return err
	}
	const q = `update ticket_sla_states set policy_id=nullif($2,'')::uuid, business_hours_only=$3, status=$4, first_response_at=$5, resolved_at=$6,
response_due_at=$7, resolution_due_at=$8, response_breached = response_breached or $9, resolution_breached = resolution_breached or $10,
pause_history=$11, total_paused_minutes=$12, currently_paused=$13, paused_since=$14, updated_at=now()
where ticket_id=$1`
	tag, err := p.DB.Exec(ctx, q, st.TicketID, st.PolicyID, st.BusinessHoursOnly, string(st.Status), st.FirstResponseAt, st.ResolvedAt,
		st.ResponseDueAt, st.ResolutionDueAt, st.ResponseBreached, st.ResolutionBreached, hist, st.TotalPausedMinutes, st.CurrentlyPaused, st.pausedSince())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStateNotFound
	}
	return nil
}

// overdueQuery shifts the stored deadlines of paused rows by the whole
// minutes elapsed since paused_since, matching TicketState.EffectiveDue.
const overdueQuery = `with effective as (
  select ticket_id, first_response_at, response_breached, resolution_breached,
         response_due_at + shift as response_due, resolution_due_at + shift as resolution_due
  from ticket_sla_states,
       lateral (select case when paused_since is null then interval '0'
                 else make_interval(mins => ceil(greatest(extract(epoch from ($1::timestamptz - paused_since)), 0) / 60)::int)
                 end as shift) s
  where status <> 'resolved'
    and (response_due_at < $1::timestamptz or resolution_due_at < $1::timestamptz)
)
select ticket_id from effective
where (first_response_at is null and not response_breached and response_due < $1::timestamptz)
   or (not resolution_breached and resolution_due < $1::timestamptz)
order by resolution_due, ticket_id
limit $2`

func (p *PGStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := p.DB.Query(ctx, overdueQuery, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
