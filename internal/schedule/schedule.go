// Package schedule persists session schedules and fires them through the
// session manager at their computed times.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Kind discriminates how a schedule computes its next run.
type Kind string

const (
	// KindOnce fires at a single absolute timestamp, then auto-disables.
	KindOnce Kind = "once"
	// KindDaily fires at a time of day, optionally limited to weekdays.
	KindDaily Kind = "daily"
	// KindCron fires per a standard five-field cron expression.
	KindCron Kind = "cron"
)

// Schedule is one persisted trigger definition.
type Schedule struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	PresetID uuid.UUID `json:"preset_id"`
	Enabled  bool      `json:"enabled"`
	Kind     Kind      `json:"kind"`

	// At is the one-shot timestamp for KindOnce.
	At time.Time `json:"at,omitzero"`

	// TimeOfDay is "HH:MM" local time for KindDaily.
	TimeOfDay string `json:"time_of_day,omitempty"`
	// Weekdays limits KindDaily to the listed days. Empty means every day.
	Weekdays []time.Weekday `json:"weekdays,omitempty"`

	// CronExpr is the expression for KindCron, e.g. "*/15 9-17 * * 1-5".
	CronExpr string `json:"cron,omitempty"`
}

// Validate checks the fields a schedule of its kind requires.
func (s Schedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("schedule name is required")
	}
	if s.PresetID == uuid.Nil {
		return errors.New("schedule preset reference is required")
	}
	switch s.Kind {
	case KindOnce:
		if s.At.IsZero() {
			return errors.New("one-time schedule needs a timestamp")
		}
	case KindDaily:
		if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
		for _, wd := range s.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return fmt.Errorf("invalid weekday %d", int(wd))
			}
		}
	case KindCron:
		if _, err := cron.ParseStandard(s.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.CronExpr, err)
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// NextRun computes the earliest firing instant after now. ok is false when
// the schedule can never fire again from now (disabled, expired one-shot,
// unconfigured daily time, bad cron).
func NextRun(s Schedule, now time.Time) (next time.Time, ok bool) {
	if !s.Enabled {
		return time.Time{}, false
	}
	switch s.Kind {
	case KindOnce:
		if s.At.After(now) {
			return s.At, true
		}
		return time.Time{}, false

	case KindDaily:
		hh, mm, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, false
		}
		for day := 0; day <= 7; day++ {
			cand := time.Date(now.Year(), now.Month(), now.Day()+day, hh, mm, 0, 0, now.Location())
			if cand.Before(now) {
				continue
			}
			if weekdayAllowed(s.Weekdays, cand.Weekday()) {
				return cand, true
			}
		}
		return time.Time{}, false

	case KindCron:
		spec, err := cron.ParseStandard(s.CronExpr)
		if err != nil {
			return time.Time{}, false
		}
		n := spec.Next(now)
		if n.IsZero() {
			return time.Time{}, false
		}
		return n, true

	default:
		return time.Time{}, false
	}
}

func weekdayAllowed(set []time.Weekday, wd time.Weekday) bool {
	if len(set) == 0 {
		return true
	}
	for _, w := range set {
		if w == wd {
			return true
		}
	}
	return false
}

func parseTimeOfDay(v string) (hh, mm int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, fmt.Errorf("time of day must be HH:MM: %w", err)
	}
	return t.Hour(), t.Minute(), nil
}
