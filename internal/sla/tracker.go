package sla

import "time"

type Status string

const (
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusResolved Status = "resolved"
)

type Event string

const (
	EventCreated       Event = "created"
	EventFirstResponse Event = "first_response"
	EventPaused        Event = "paused"
	EventResumed       Event = "resumed"
	EventResolved      Event = "resolved"
	EventReprioritized Event = "reprioritized"
	EventSwept         Event = "swept"
)

// BreachKind names the deadline that was missed.
type BreachKind string

const (
	BreachResponse   BreachKind = "response"
	BreachResolution BreachKind = "resolution"
)

// PauseEntry is one stretch of stopped SLA clock. EndedAt is nil while the
// pause is open.
type PauseEntry struct {
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Reason    string     `json:"reason"`
}

// TicketState is the SLA record owned by one ticket.
type TicketState struct {
	TicketID           string       `json:"ticket_id"`
	PolicyID           string       `json:"policy_id"`
	BusinessHoursOnly  bool         `json:"business_hours_only"`
	Status             Status       `json:"status"`
	CreatedAt          time.Time    `json:"created_at"`
	FirstResponseAt    *time.Time   `json:"first_response_at,omitempty"`
	ResolvedAt         *time.Time   `json:"resolved_at,omitempty"`
	ResponseDueAt      time.Time    `json:"response_due_at"`
	ResolutionDueAt    time.Time    `json:"resolution_due_at"`
	ResponseBreached   bool         `json:"response_breached"`
	ResolutionBreached bool         `json:"resolution_breached"`
	PauseHistory       []PauseEntry `json:"pause_history"`
	TotalPausedMinutes int          `json:"total_paused_minutes"`
	CurrentlyPaused    bool         `json:"currently_paused"`
}

// NewTicketState computes the initial deadlines for a ticket created at now.
// cal is consulted only when the policy counts business hours.
func NewTicketState(ticketID string, p Policy, now time.Time, cal *Calendar) (*TicketState, error) {
	if !p.BusinessHoursOnly {
		cal = nil
	} else if cal == nil {
		return nil, &ConfigurationError{Reason: "business-hours policy without a calendar"}
	}
	respDue, err := Project(now, p.ResponseTargetMins, cal)
	if err != nil {
		return nil, err
	}
	resDue, err := Project(now, p.ResolutionTargetMins, cal)
	if err != nil {
		return nil, err
	}
	return &TicketState{
		TicketID:          ticketID,
		PolicyID:          p.ID,
		BusinessHoursOnly: p.BusinessHoursOnly,
		Status:            StatusRunning,
		CreatedAt:         now,
		ResponseDueAt:     respDue,
		ResolutionDueAt:   resDue,
		PauseHistory:      []PauseEntry{},
	}, nil
}

// Clone returns a deep copy.
func (s *TicketState) Clone() *TicketState {
	c := *s
	c.FirstResponseAt = copyTime(s.FirstResponseAt)
	c.ResolvedAt = copyTime(s.ResolvedAt)
	c.PauseHistory = make([]PauseEntry, len(s.PauseHistory))
	for i, p := range s.PauseHistory {
		p.EndedAt = copyTime(p.EndedAt)
		c.PauseHistory[i] = p
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (s *TicketState) openPause() *PauseEntry {
	for i := len(s.PauseHistory) - 1; i >= 0; i-- {
		if s.PauseHistory[i].EndedAt == nil {
			return &s.PauseHistory[i]
		}
	}
	return nil
}

// pausedSince returns the start of the open pause, or nil while running.
func (s *TicketState) pausedSince() *time.Time {
	if p := s.openPause(); p != nil {
		return copyTime(&p.StartedAt)
	}
	return nil
}

// pendingPause is the shift an open pause would apply if it closed at now.
func (s *TicketState) pendingPause(now time.Time) time.Duration {
	if p := s.openPause(); p != nil {
		return time.Duration(ceilMinutes(now.Sub(p.StartedAt))) * time.Minute
	}
	return 0
}

// EffectiveDue returns the deadlines as they would stand if the open pause,
// if any, were closed at now.
func (s *TicketState) EffectiveDue(now time.Time) (time.Time, time.Time) {
	shift := s.pendingPause(now)
	return s.ResponseDueAt.Add(shift), s.ResolutionDueAt.Add(shift)
}

// The transition methods report whether the state changed and which breach
// flags flipped. Benign repeats return changed=false without error; events
// the status does not accept return a TransitionError.

// FirstResponse records the first reply. The response breach is judged
// against the effective due date, so a reply sent while paused is measured
// with the clock stopped at the pause start rather than against the stored
// ResponseDueAt.
func (s *TicketState) FirstResponse(now time.Time) (bool, []BreachKind, error) {
	if s.Status == StatusResolved {
		return false, nil, &TransitionError{Event: EventFirstResponse, Status: s.Status}
	}
	if s.FirstResponseAt != nil {
		return false, nil, nil
	}
	t := now
	s.FirstResponseAt = &t
	respDue, _ := s.EffectiveDue(now)
	var flipped []BreachKind
	if !s.ResponseBreached && now.After(respDue) {
		s.ResponseBreached = true
		flipped = append(flipped, BreachResponse)
	}
	return true, flipped, nil
}

func (s *TicketState) Pause(now time.Time, reason string) (bool, error) {
	switch s.Status {
	case StatusPaused:
		return false, nil
	case StatusResolved:
		return false, &TransitionError{Event: EventPaused, Status: s.Status}
	}
	s.PauseHistory = append(s.PauseHistory, PauseEntry{StartedAt: now, Reason: reason})
	s.Status = StatusPaused
	s.CurrentlyPaused = true
	return true, nil
}

func (s *TicketState) Resume(now time.Time) (bool, error) {
	switch s.Status {
	case StatusRunning:
		return false, nil
	case StatusResolved:
		return false, &TransitionError{Event: EventResumed, Status: s.Status}
	}
	s.closePause(now)
	return true, nil
}

func (s *TicketState) closePause(now time.Time) {
	p := s.openPause()
	if p != nil {
		mins := ceilMinutes(now.Sub(p.StartedAt))
		t := now
		p.EndedAt = &t
		s.TotalPausedMinutes += mins
		shift := time.Duration(mins) * time.Minute
		s.ResponseDueAt = s.ResponseDueAt.Add(shift)
		s.ResolutionDueAt = s.ResolutionDueAt.Add(shift)
	}
	s.Status = StatusRunning
	s.CurrentlyPaused = false
}

func (s *TicketState) Resolve(now time.Time) ([]BreachKind, error) {
	if s.Status == StatusResolved {
		return nil, &TransitionError{Event: EventResolved, Status: s.Status}
	}
	if s.Status == StatusPaused {
		s.closePause(now)
	}
	t := now
	s.ResolvedAt = &t
	s.Status = StatusResolved
	var flipped []BreachKind
	if !s.ResolutionBreached && now.After(s.ResolutionDueAt) {
		s.ResolutionBreached = true
		flipped = append(flipped, BreachResolution)
	}
	return flipped, nil
}

// Reprioritize recomputes both deadlines from the creation time under p and
// reapplies the closed pauses. Breach flags are kept.
func (s *TicketState) Reprioritize(p Policy, cal *Calendar) error {
	if s.Status == StatusResolved {
		return &TransitionError{Event: EventReprioritized, Status: s.Status}
	}
	fresh, err := NewTicketState(s.TicketID, p, s.CreatedAt, cal)
	if err != nil {
		return err
	}
	shift := time.Duration(s.TotalPausedMinutes) * time.Minute
	s.PolicyID = p.ID
	s.BusinessHoursOnly = p.BusinessHoursOnly
	s.ResponseDueAt = fresh.ResponseDueAt.Add(shift)
	s.ResolutionDueAt = fresh.ResolutionDueAt.Add(shift)
	return nil
}

// MarkOverdue flags deadlines that have passed at now without their
// milestone. Used by the periodic sweep for tickets with no recent activity.
func (s *TicketState) MarkOverdue(now time.Time) []BreachKind {
	if s.Status == StatusResolved {
		return nil
	}
	respDue, resDue := s.EffectiveDue(now)
	var flipped []BreachKind
	if s.FirstResponseAt == nil && !s.ResponseBreached && now.After(respDue) {
		s.ResponseBreached = true
		flipped = append(flipped, BreachResponse)
	}
	if !s.ResolutionBreached && now.After(resDue) {
		s.ResolutionBreached = true
		flipped = append(flipped, BreachResolution)
	}
	return flipped
}
