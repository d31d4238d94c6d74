package events

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// logger prefers the request logger and falls back to the global one, so
// failures from background callers such as the sweeper are not dropped.
func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// Recorder appends SLA events to ticket_events so they show up in the ticket
// timeline and the SSE stream.
type Recorder struct {
	DB DB
}

// Record stores one event. Best effort; failures are logged, not returned.
func (r Recorder) Record(ctx context.Context, ticketID, typ string, data interface{}) {
	if r.DB == nil {
		return
	}
	b, err := json.Marshal(data)
	if err != nil {
		logger(ctx).Error().Err(err).Str("ticket", ticketID).Str("event", typ).Msg("marshal event")
		return
	}
	const q = `insert into ticket_events (ticket_id, event_type, payload) values ($1, $2, $3)`
	if _, err := r.DB.Exec(ctx, q, ticketID, typ, b); err != nil {
		logger(ctx).Error().Err(err).Str("ticket", ticketID).Str("event", typ).Msg("record event")
	}
}
