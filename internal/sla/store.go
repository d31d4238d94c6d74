package sla

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists ticket SLA states. Callers serialize access per ticket; the
// store itself only guarantees that Create does not overwrite.
type Store interface {
	Create(ctx context.Context, st *TicketState) error
	Get(ctx context.Context, ticketID string) (*TicketState, error)
	Save(ctx context.Context, st *TicketState) error
	// ListOverdue returns tickets that are not resolved and have an unset
	// breach flag whose effective deadline (see TicketState.EffectiveDue) is
	// before now. Paused tickets whose clock has not run out are skipped.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// MemStore keeps states in memory.
type MemStore struct {
	mu     sync.RWMutex
	states map[string]*TicketState
}

func NewMemStore() *MemStore {
	return &MemStore{states: make(map[string]*TicketState)}
}

func (m *MemStore) Create(_ context.Context, st *TicketState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[st.TicketID]; ok {
		return ErrStateExists
	}
	m.states[st.TicketID] = st.Clone()
	return nil
}

func (m *MemStore) Get(_ context.Context, ticketID string) (*TicketState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[ticketID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return st.Clone(), nil
}

func (m *MemStore) Save(_ context.Context, st *TicketState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[st.TicketID]; !ok {
		return ErrStateNotFound
	}
	m.states[st.TicketID] = st.Clone()
	return nil
}

func (m *MemStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []string{}
	for id, st := range m.states {
		if st.Status == StatusResolved {
			continue
		}
		respDue, resDue := st.EffectiveDue(now)
		resp := st.FirstResponseAt == nil && !st.ResponseBreached && respDue.Before(now)
		res := !st.ResolutionBreached && resDue.Before(now)
		if resp || res {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
