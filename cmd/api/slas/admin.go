package slas

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apppkg "github.com/mark3748/helpdesk-sla/cmd/api/app"
	slapkg "github.com/mark3748/helpdesk-sla/internal/sla"
)

// List returns SLA policies.
func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		policies, err := slapkg.ListPolicies(c.Request.Context(), a.DB)
		if err != nil {
			abortSLA(c, err)
			return
		}
		c.JSON(http.StatusOK, apppkg.Envelope{Data: policies})
	}
}

// Upsert stores the active policy for a product and priority.
func Upsert(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in slapkg.Policy
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.AbortBind(c, err)
			return
		}
		p, err := slapkg.UpsertPolicy(c.Request.Context(), a.DB, in)
		if err != nil {
			abortSLA(c, err)
			return
		}
		log.Ctx(c.Request.Context()).Info().Str("policy", p.ID).Str("product", p.ProductID).Int("priority", p.Priority).Msg("sla policy stored")
		c.JSON(http.StatusOK, apppkg.Envelope{Data: p})
	}
}

// Deactivate retires a policy. New tickets for its key get PolicyNotFound
// until another policy is stored.
func Deactivate(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := slapkg.DeactivatePolicy(c.Request.Context(), a.DB, c.Param("id")); err != nil {
			abortSLA(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type calendarResp struct {
	Timezone string           `json:"timezone"`
	Hours    []slapkg.Hours   `json:"hours"`
	Holidays []slapkg.Holiday `json:"holidays"`
}

// Calendar returns the stored business hours and holidays.
func Calendar(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		hours, err := slapkg.ListHours(ctx, a.DB)
		if err != nil {
			abortSLA(c, err)
			return
		}
		holidays, err := slapkg.ListHolidays(ctx, a.DB)
		if err != nil {
			abortSLA(c, err)
			return
		}
		c.JSON(http.StatusOK, apppkg.Envelope{Data: calendarResp{Timezone: a.Cfg.SLATimezone, Hours: hours, Holidays: holidays}})
	}
}

type hoursReq struct {
	Hours []slapkg.Hours `json:"hours" binding:"required"`
}

// ReplaceHours swaps the weekday rules.
func ReplaceHours(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in hoursReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.AbortBind(c, err)
			return
		}
		if err := slapkg.ValidateHours(in.Hours); err != nil {
			apppkg.AbortError(c, http.StatusBadRequest, "invalid_hours", err.Error(), nil)
			return
		}
		if err := slapkg.ReplaceHours(c.Request.Context(), a.DB, in.Hours); err != nil {
			abortSLA(c, err)
			return
		}
		invalidate(a)
		c.JSON(http.StatusOK, apppkg.Envelope{Data: in.Hours})
	}
}

type holidayReq struct {
	Date      string `json:"date" binding:"required,datetime=2006-01-02"`
	Name      string `json:"name" binding:"max=200"`
	Recurring bool   `json:"is_recurring"`
}

// AddHoliday stores a holiday; the date is read as a calendar date.
func AddHoliday(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in holidayReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.AbortBind(c, err)
			return
		}
		d, _ := time.Parse(time.DateOnly, in.Date)
		h := slapkg.Holiday{Date: d, Name: in.Name, Recurring: in.Recurring}
		if err := slapkg.PutHoliday(c.Request.Context(), a.DB, h); err != nil {
			abortSLA(c, err)
			return
		}
		invalidate(a)
		c.JSON(http.StatusCreated, apppkg.Envelope{Data: h})
	}
}

// DeleteHoliday removes the holiday on :date (YYYY-MM-DD).
func DeleteHoliday(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := time.Parse(time.DateOnly, c.Param("date"))
		if err != nil {
			apppkg.AbortError(c, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD", nil)
			return
		}
		if err := slapkg.DeleteHoliday(c.Request.Context(), a.DB, d); err != nil {
			abortSLA(c, err)
			return
		}
		invalidate(a)
		c.Status(http.StatusNoContent)
	}
}

func invalidate(a *apppkg.App) {
	if a.Calendars != nil {
		a.Calendars.Invalidate()
	}
}
