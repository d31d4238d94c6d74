package slas

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apppkg "github.com/mark3748/helpdesk-sla/cmd/api/app"
)

// StreamEvent is one sla.* ticket event as sent to clients.
type StreamEvent struct {
	Type     string          `json:"type"`
	TicketID string          `json:"ticket_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Rows younger than the lag are held back: seq is taken at insert, so a
// lower seq can still commit after a higher one is visible.
const streamQuery = `select seq, ticket_id, event_type, payload
from ticket_events
where event_type like 'sla.%'
  and ($2 = '' or ticket_id = $2)
  and seq > $1
  and created_at < now() - make_interval(secs => $3)
order by seq asc
limit 500`

var (
	streamPoll      = time.Second
	streamHeartbeat = 25 * time.Second
	streamLag       = 2 * time.Second
)

// Stream sends SLA events as Server-Sent Events. The event id is the row's
// seq; Last-Event-ID resumes after it and ?ticket= narrows the stream to one
// ticket.
func Stream(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			apppkg.AbortError(c, http.StatusServiceUnavailable, "unavailable", "event stream unavailable", nil)
			return
		}
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			apppkg.AbortError(c, http.StatusInternalServerError, "internal", "streaming unsupported", nil)
			return
		}
		ctx := c.Request.Context()
		ticket := c.Query("ticket")

		var cursor int64
		if v := c.GetHeader("Last-Event-ID"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				apppkg.AbortError(c, http.StatusBadRequest, "invalid_event_id", "Last-Event-ID must be an event sequence number", nil)
				return
			}
			cursor = n
		}

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Content-Type-Options", "nosniff")
		c.Status(http.StatusOK)
		flusher.Flush()

		send := func() {
			rows, err := a.DB.Query(ctx, streamQuery, cursor, ticket, streamLag.Seconds())
			if err != nil {
				if ctx.Err() == nil {
					log.Ctx(ctx).Error().Err(err).Msg("sla event stream query")
				}
				return
			}
			defer rows.Close()
			for rows.Next() {
				var seq int64
				var ev StreamEvent
				if err := rows.Scan(&seq, &ev.TicketID, &ev.Type, &ev.Data); err != nil {
					log.Ctx(ctx).Error().Err(err).Msg("sla event stream scan")
					return
				}
				b, _ := json.Marshal(ev)
				fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Type, b)
				cursor = seq
			}
			flusher.Flush()
		}

		send()
		poll := time.NewTicker(streamPoll)
		heart := time.NewTicker(streamHeartbeat)
		defer poll.Stop()
		defer heart.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-poll.C:
				send()
			case <-heart.C:
				fmt.Fprint(c.Writer, ": heartbeat\n\n")
				flusher.Flush()
			}
		}
	}
}
