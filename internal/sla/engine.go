package sla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mark3748/helpdesk-sla/internal/lock"
)

// Breach is reported once per flag when it flips to true.
type Breach struct {
	TicketID   string
	Kind       BreachKind
	DueAt      time.Time
	DetectedAt time.Time
}

type Notifier interface {
	BreachDetected(ctx context.Context, b Breach) error
}

type EventRecorder interface {
	Record(ctx context.Context, ticketID, typ string, data interface{})
}

// Engine applies ticket lifecycle events to SLA trackers. Every event on a
// ticket runs under that ticket's lock: load, validate, mutate, save, release.
type Engine struct {
	Store     Store
	Policies  PolicyResolver
	Calendars CalendarSource
	Locker    lock.Locker
	Notifier  Notifier
	Events    EventRecorder

	tracer trace.Tracer
}

func NewEngine(store Store, policies PolicyResolver, calendars CalendarSource, locker lock.Locker) *Engine {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Engine{
		Store:     store,
		Policies:  policies,
		Calendars: calendars,
		Locker:    locker,
		tracer:    otel.Tracer("helpdesk.sla"),
	}
}

func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

func (e *Engine) tr() trace.Tracer {
	if e.tracer != nil {
		return e.tracer
	}
	return otel.Tracer("helpdesk.sla")
}

func (e *Engine) start(ctx context.Context, name, ticketID string) (context.Context, trace.Span) {
	ctx, span := e.tr().Start(ctx, name)
	span.SetAttributes(attribute.String("sla.ticket_id", ticketID))
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) calendarFor(ctx context.Context, p Policy) (*Calendar, error) {
	if !p.BusinessHoursOnly {
		return nil, nil
	}
	if e.Calendars == nil {
		return nil, &ConfigurationError{Reason: "business-hours policy without a calendar"}
	}
	return e.Calendars.Calendar(ctx)
}

func lockKey(ticketID string) string { return "sla:" + ticketID }

// OnTicketCreated resolves the policy and creates the ticket's tracker with
// its initial deadlines.
func (e *Engine) OnTicketCreated(ctx context.Context, ticketID, productID string, priority int, now time.Time) (st *TicketState, err error) {
	ctx, span := e.start(ctx, "sla.ticket_created", ticketID)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("sla.product_id", productID), attribute.Int("sla.priority", priority))

	p, err := e.Policies.Resolve(ctx, productID, priority)
	if err != nil {
		return nil, err
	}
	cal, err := e.calendarFor(ctx, p)
	if err != nil {
		return nil, err
	}
	unlock, err := e.Locker.Lock(ctx, lockKey(ticketID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err = NewTicketState(ticketID, p, now, cal)
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			logger(ctx).Error().Err(err).Str("ticket", ticketID).Str("policy", p.ID).Msg("sla deadlines not computable")
		}
		return nil, err
	}
	if err := e.Store.Create(ctx, st); err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(EventCreated)).Inc()
	e.record(ctx, st, EventCreated, map[string]any{
		"policy_id":         p.ID,
		"response_due_at":   st.ResponseDueAt,
		"resolution_due_at": st.ResolutionDueAt,
	})
	return st, nil
}

func (e *Engine) OnFirstResponse(ctx context.Context, ticketID string, now time.Time) (*TicketState, error) {
	return e.apply(ctx, ticketID, EventFirstResponse, now, func(st *TicketState) (bool, []BreachKind, error) {
		return st.FirstResponse(now)
	})
}

func (e *Engine) OnPauseRequested(ctx context.Context, ticketID string, now time.Time, reason string) (*TicketState, error) {
	return e.apply(ctx, ticketID, EventPaused, now, func(st *TicketState) (bool, []BreachKind, error) {
		changed, err := st.Pause(now, reason)
		return changed, nil, err
	})
}

func (e *Engine) OnResumeRequested(ctx context.Context, ticketID string, now time.Time) (*TicketState, error) {
	return e.apply(ctx, ticketID, EventResumed, now, func(st *TicketState) (bool, []BreachKind, error) {
		changed, err := st.Resume(now)
		return changed, nil, err
	})
}

func (e *Engine) OnResolved(ctx context.Context, ticketID string, now time.Time) (*TicketState, error) {
	return e.apply(ctx, ticketID, EventResolved, now, func(st *TicketState) (bool, []BreachKind, error) {
		flipped, err := st.Resolve(now)
		return err == nil, flipped, err
	})
}

// OnPriorityChanged looks the policy up again for the new key and recomputes
// the deadlines from the ticket's creation time.
func (e *Engine) OnPriorityChanged(ctx context.Context, ticketID, productID string, priority int, now time.Time) (*TicketState, error) {
	p, err := e.Policies.Resolve(ctx, productID, priority)
	if err != nil {
		return nil, err
	}
	cal, err := e.calendarFor(ctx, p)
	if err != nil {
		return nil, err
	}
	return e.apply(ctx, ticketID, EventReprioritized, now, func(st *TicketState) (bool, []BreachKind, error) {
		if err := st.Reprioritize(p, cal); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	})
}

func (e *Engine) GetState(ctx context.Context, ticketID string) (*TicketState, error) {
	return e.Store.Get(ctx, ticketID)
}

// View is the read-only projection shown to agents.
type View struct {
	*TicketState
	EffectiveResponseDueAt   time.Time `json:"effective_response_due_at"`
	EffectiveResolutionDueAt time.Time `json:"effective_resolution_due_at"`
	BusinessMinutesElapsed   *int      `json:"business_minutes_elapsed,omitempty"`
}

// View adds the deadlines as they stand at now and, for business-hours
// trackers, the working minutes elapsed since creation.
func (e *Engine) View(ctx context.Context, ticketID string, now time.Time) (*View, error) {
	st, err := e.Store.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	v := &View{TicketState: st}
	v.EffectiveResponseDueAt, v.EffectiveResolutionDueAt = st.EffectiveDue(now)
	if st.BusinessHoursOnly && e.Calendars != nil {
		cal, err := e.Calendars.Calendar(ctx)
		if err != nil {
			return nil, err
		}
		end := now
		if st.ResolvedAt != nil {
			end = *st.ResolvedAt
		}
		mins := int(cal.BusinessDuration(st.CreatedAt, end) / time.Minute)
		v.BusinessMinutesElapsed = &mins
	}
	return v, nil
}

// SweepResult reports one sweep pass. Candidates is the number of trackers
// ListOverdue returned; callers page with it, not with Flagged.
type SweepResult struct {
	Candidates int
	Flagged    int
}

// SweepBreaches flags overdue trackers that have seen no event since their
// deadline passed.
func (e *Engine) SweepBreaches(ctx context.Context, now time.Time, limit int) (res SweepResult, err error) {
	ctx, span := e.tr().Start(ctx, "sla.sweep")
	defer func() { endSpan(span, err) }()
	timer := time.Now()
	defer func() { sweepDuration.Observe(time.Since(timer).Seconds()) }()

	ids, err := e.Store.ListOverdue(ctx, now, limit)
	if err != nil {
		return res, err
	}
	res.Candidates = len(ids)
	for _, id := range ids {
		var flips int
		_, err := e.apply(ctx, id, EventSwept, now, func(st *TicketState) (bool, []BreachKind, error) {
			flipped := st.MarkOverdue(now)
			flips = len(flipped)
			return flips > 0, flipped, nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			logger(ctx).Error().Err(err).Str("ticket", id).Msg("sweep ticket")
			continue
		}
		res.Flagged += flips
	}
	span.SetAttributes(attribute.Int("sla.sweep.candidates", res.Candidates), attribute.Int("sla.sweep.flagged", res.Flagged))
	return res, nil
}

type mutation func(st *TicketState) (changed bool, flipped []BreachKind, err error)

func (e *Engine) apply(ctx context.Context, ticketID string, ev Event, now time.Time, fn mutation) (st *TicketState, err error) {
	ctx, span := e.start(ctx, "sla."+string(ev), ticketID)
	defer func() { endSpan(span, err) }()

	unlock, err := e.Locker.Lock(ctx, lockKey(ticketID))
	if err != nil {
		return nil, fmt.Errorf("lock ticket %s: %w", ticketID, err)
	}
	defer unlock()

	st, err = e.Store.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	before := st.Clone()
	changed, flipped, ferr := fn(st)
	var te *TransitionError
	if errors.As(ferr, &te) {
		invalidTransitionsTotal.WithLabelValues(string(te.Event), string(te.Status)).Inc()
		logger(ctx).Warn().Str("ticket", ticketID).Str("event", string(te.Event)).Str("status", string(te.Status)).Msg("ignoring sla event")
		return before, nil
	}
	if ferr != nil {
		if errors.Is(ferr, ErrConfiguration) {
			logger(ctx).Error().Err(ferr).Str("ticket", ticketID).Msg("sla deadlines not computable")
		}
		return nil, ferr
	}
	if !changed {
		return st, nil
	}
	if err := e.Store.Save(ctx, st); err != nil {
		return nil, err
	}
	if ev != EventSwept {
		transitionsTotal.WithLabelValues(string(ev)).Inc()
		e.record(ctx, st, ev, eventPayload(st, ev, now))
	}
	for _, k := range flipped {
		e.breached(ctx, st, k, now)
	}
	return st, nil
}

func eventPayload(st *TicketState, ev Event, now time.Time) map[string]any {
	out := map[string]any{"at": now}
	switch ev {
	case EventPaused:
		out["reason"] = st.PauseHistory[len(st.PauseHistory)-1].Reason
	case EventResumed, EventResolved, EventReprioritized:
		out["response_due_at"] = st.ResponseDueAt
		out["resolution_due_at"] = st.ResolutionDueAt
		out["total_paused_minutes"] = st.TotalPausedMinutes
	}
	return out
}

func (e *Engine) record(ctx context.Context, st *TicketState, ev Event, data map[string]any) {
	if e.Events == nil {
		return
	}
	e.Events.Record(ctx, st.TicketID, "sla."+string(ev), data)
}

func (e *Engine) breached(ctx context.Context, st *TicketState, k BreachKind, now time.Time) {
	breachesTotal.WithLabelValues(string(k)).Inc()
	respDue, resDue := st.EffectiveDue(now)
	due := resDue
	if k == BreachResponse {
		due = respDue
	}
	logger(ctx).Warn().Str("ticket", st.TicketID).Str("kind", string(k)).Time("due_at", due).Msg("sla breached")
	b := Breach{TicketID: st.TicketID, Kind: k, DueAt: due, DetectedAt: now}
	if e.Events != nil {
		e.Events.Record(ctx, st.TicketID, "sla.breached", map[string]any{"kind": k, "due_at": due, "at": now})
	}
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.BreachDetected(ctx, b); err != nil {
		logger(ctx).Error().Err(err).Str("ticket", st.TicketID).Msg("notify breach")
	}
}
