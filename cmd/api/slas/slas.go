package slas

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/helpdesk-sla/cmd/api/app"
	slapkg "github.com/mark3748/helpdesk-sla/internal/sla"
)

// abortSLA maps engine errors onto HTTP responses.
func abortSLA(c *gin.Context, err error) {
	switch {
	case errors.Is(err, slapkg.ErrPolicyNotFound):
		apppkg.AbortError(c, http.StatusUnprocessableEntity, "policy_not_found", err.Error(), nil)
	case errors.Is(err, slapkg.ErrStateNotFound):
		apppkg.AbortError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, slapkg.ErrHolidayNotFound):
		apppkg.AbortError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, slapkg.ErrStateExists):
		apppkg.AbortError(c, http.StatusConflict, "sla_exists", err.Error(), nil)
	case errors.Is(err, slapkg.ErrConfiguration):
		apppkg.AbortError(c, http.StatusInternalServerError, "sla_configuration", err.Error(), nil)
	default:
		apppkg.AbortError(c, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}

func requireEngine(a *apppkg.App, c *gin.Context) bool {
	if a.SLA == nil {
		apppkg.AbortError(c, http.StatusServiceUnavailable, "sla_unavailable", "sla engine not configured", nil)
		return false
	}
	return true
}

// eventTime returns the client-supplied instant or the server clock.
func eventTime(at *time.Time) time.Time {
	if at == nil || at.IsZero() {
		return time.Now().UTC()
	}
	return *at
}

type createReq struct {
	ProductID string     `json:"product_id" binding:"required"`
	Priority  int        `json:"priority" binding:"required,min=1,max=4"`
	At        *time.Time `json:"at"`
}

// Create starts SLA tracking for the ticket.
func Create(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireEngine(a, c) {
			return
		}
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.AbortBind(c, err)
			return
		}
		st, err := a.SLA.OnTicketCreated(c.Request.Context(), c.Param("id"), in.ProductID, in.Priority, eventTime(in.At))
		if err != nil {
			abortSLA(c, err)
			return
		}
		c.JSON(http.StatusCreated, apppkg.Envelope{Data: st})
	}
}

type eventReq struct {
	At     *time.Time `json:"at"`
	Reason string     `json:"reason" binding:"max=500"`
}

type eventFunc func(a *apppkg.App, c *gin.Context, id string, in eventReq, now time.Time) (*slapkg.TicketState, error)

func event(a *apppkg.App, fn eventFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireEngine(a, c) {
			return
		}
		var in eventReq
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&in); err != nil {
				apppkg.AbortBind(c, err)
				return
			}
		}
		st, err := fn(a, c, c.Param("id"), in, eventTime(in.At))
		if err != nil {
			abortSLA(c, err)
			return
		}
		c.JSON(http.StatusOK, apppkg.Envelope{Data: st})
	}
}

// FirstResponse records the first agent reply.
func FirstResponse(a *apppkg.App) gin.HandlerFunc {
	return event(a, func(a *apppkg.App, c *gin.Context, id string, _ eventReq, now time.Time) (*slapkg.TicketState, error) {
		return a.SLA.OnFirstResponse(c.Request.Context(), id, now)
	})
}

// Pause stops the SLA clock.
func Pause(a *apppkg.App) gin.HandlerFunc {
	return event(a, func(a *apppkg.App, c *gin.Context, id string, in eventReq, now time.Time) (*slapkg.TicketState, error) {
		return a.SLA.OnPauseRequested(c.Request.Context(), id, now, in.Reason)
	})
}

// Resume restarts the SLA clock.
func Resume(a *apppkg.App) gin.HandlerFunc {
	return event(a, func(a *apppkg.App, c *gin.Context, id string, _ eventReq, now time.Time) (*slapkg.TicketState, error) {
		return a.SLA.OnResumeRequested(c.Request.Context(), id, now)
	})
}

// Resolve closes the tracker.
func Resolve(a *apppkg.App) gin.HandlerFunc {
	return event(a, func(a *apppkg.App, c *gin.Context, id string, _ eventReq, now time.Time) (*slapkg.TicketState, error) {
		return a.SLA.OnResolved(c.Request.Context(), id, now)
	})
}

// Reprioritize applies the policy for the ticket's new priority.
func Reprioritize(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireEngine(a, c) {
			return
		}
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.AbortBind(c, err)
			return
		}
		st, err := a.SLA.OnPriorityChanged(c.Request.Context(), c.Param("id"), in.ProductID, in.Priority, eventTime(in.At))
		if err != nil {
			abortSLA(c, err)
			return
		}
		c.JSON(http.StatusOK, apppkg.Envelope{Data: st})
	}
}

// Get returns the tracker with deadlines evaluated at the current time.
func Get(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireEngine(a, c) {
			return
		}
		v, err := a.SLA.View(c.Request.Context(), c.Param("id"), time.Now().UTC())
		if err != nil {
			abortSLA(c, err)
			return
		}
		c.JSON(http.StatusOK, apppkg.Envelope{Data: v})
	}
}
