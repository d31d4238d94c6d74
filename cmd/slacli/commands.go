package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/mark3748/helpdesk-sla/internal/events"
	"github.com/mark3748/helpdesk-sla/internal/lock"
	"github.com/mark3748/helpdesk-sla/internal/queue"
	"github.com/mark3748/helpdesk-sla/internal/sla"
	"github.com/mark3748/helpdesk-sla/migrations"
)

func newMigrateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrations.Up(cmd.Context(), o.databaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

// parseWindow reads "HH:MM-HH:MM" into seconds since midnight.
func parseWindow(s string) (int, int, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("window %q: want HH:MM-HH:MM", s)
	}
	sec := func(v string) (int, error) {
		if v == "24:00" {
			return 24 * 3600, nil
		}
		t, err := time.Parse("15:04", v)
		if err != nil {
			return 0, fmt.Errorf("window %q: %w", s, err)
		}
		return t.Hour()*3600 + t.Minute()*60, nil
	}
	start, err := sec(from)
	if err != nil {
		return 0, 0, err
	}
	end, err := sec(to)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func newProjectCmd(o *options) *cobra.Command {
	var start string
	var minutes int
	var businessHours bool
	var weekdays string
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Compute the deadline that lies a number of SLA minutes after a start instant",
		Example: `  slacli project --start 2025-01-10T17:30:00Z --minutes 60
  slacli project --start 2025-01-10T17:30:00Z --minutes 60 --business-hours --weekdays 09:00-18:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			loc, err := o.location()
			if err != nil {
				return err
			}
			var cal *sla.Calendar
			if businessHours {
				switch {
				case weekdays != "":
					from, to, err := parseWindow(weekdays)
					if err != nil {
						return err
					}
					hours := []sla.Hours{}
					for d := time.Monday; d <= time.Friday; d++ {
						hours = append(hours, sla.Hours{Day: d, StartSec: from, EndSec: to, Working: true})
					}
					if err := sla.ValidateHours(hours); err != nil {
						return err
					}
					cal = sla.NewCalendar(loc, hours, nil)
				default:
					pool, err := o.pool(cmd.Context())
					if err != nil {
						return err
					}
					defer pool.Close()
					if cal, err = sla.LoadCalendar(cmd.Context(), pool, loc); err != nil {
						return err
					}
				}
			}
			due, err := sla.Project(at, minutes, cal)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), due.In(loc).Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start instant (RFC 3339)")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "SLA minutes to add")
	cmd.Flags().BoolVar(&businessHours, "business-hours", false, "count only business minutes")
	cmd.Flags().StringVar(&weekdays, "weekdays", "", "Mon-Fri window HH:MM-HH:MM instead of the stored calendar")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func (o *options) engine(cmd *cobra.Command) (*sla.Engine, func(), error) {
	loc, err := o.location()
	if err != nil {
		return nil, nil, err
	}
	pool, err := o.pool(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	var locker lock.Locker
	rdb := o.redis()
	if rdb != nil {
		locker = lock.NewRedis(rdb, 10*time.Second, "sla")
	}
	e := sla.NewEngine(&sla.PGStore{DB: pool}, sla.DBPolicies{DB: pool}, &sla.CalendarLoader{DB: pool, Location: loc}, locker)
	e.Events = events.Recorder{DB: pool}
	if rdb != nil {
		e.Notifier = queue.NewPublisher(rdb)
	}
	closeAll := func() {
		pool.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
	}
	return e, closeAll, nil
}

func newStateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state <ticket-id>",
		Short: "Print a ticket's SLA state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeAll, err := o.engine(cmd)
			if err != nil {
				return err
			}
			defer closeAll()
			v, err := e.View(cmd.Context(), args[0], time.Now().UTC())
			if errors.Is(err, sla.ErrStateNotFound) {
				return fmt.Errorf("ticket %s has no sla tracker", args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
}

func newSweepCmd(o *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Flag overdue trackers once (requires Redis for ticket locks)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.redisAddr == "" {
				return errors.New("sweep needs --redis-addr or REDIS_ADDR so ticket locks are shared with the api and worker")
			}
			e, closeAll, err := o.engine(cmd)
			if err != nil {
				return err
			}
			defer closeAll()
			res, err := e.SweepBreaches(cmd.Context(), time.Now().UTC(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d trackers examined, %d breach flags set\n", res.Candidates, res.Flagged)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum trackers to examine")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var subject, roles, secret string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an HS256 token for AUTH_MODE=local",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("AUTH_LOCAL_SECRET or --secret is required")
			}
			claims := jwt.MapClaims{"sub": subject, "iat": time.Now().Unix()}
			if ttl > 0 {
				claims["exp"] = time.Now().Add(ttl).Unix()
			}
			var rs []string
			for _, r := range strings.Split(roles, ",") {
				if r = strings.TrimSpace(r); r != "" {
					rs = append(rs, r)
				}
			}
			if len(rs) > 0 {
				claims["roles"] = rs
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "slacli", "token subject")
	cmd.Flags().StringVar(&roles, "roles", "agent", "comma-separated roles")
	cmd.Flags().StringVar(&secret, "secret", getEnv("AUTH_LOCAL_SECRET", ""), "HMAC secret")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime (0 for none)")
	return cmd
}
