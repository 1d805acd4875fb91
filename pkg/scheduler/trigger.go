package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

// Trigger computes fire times for a job.
type Trigger interface {
	// Next returns the first fire time strictly after t.
	Next(t time.Time) time.Time
}

// Interval fires every fixed duration.
type Interval struct {
	Every time.Duration
}

func (i Interval) Next(t time.Time) time.Time { return t.Add(i.Every) }

// Cron fires on a five-field cron expression with minute precision.
type Cron struct {
	schedule cron.Schedule
}

// NewCron parses a standard five-field expression.
func NewCron(expr string) (Cron, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return Cron{}, errdefs.Wrap(err, errdefs.KindInvalidArg, "scheduler.NewCron")
	}
	return Cron{schedule: schedule}, nil
}

func (c Cron) Next(t time.Time) time.Time { return c.schedule.Next(t) }

// Daily fires once a day at a fixed wall-clock time.
type Daily struct {
	HH, MM int
	Loc    *time.Location
}

func (d Daily) Next(t time.Time) time.Time {
	loc := d.Loc
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), d.HH, d.MM, 0, 0, loc)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ParseTrigger parses a trigger spec: "interval:30m", "cron:0 3 * * 0",
// or "daily:03:00".
func ParseTrigger(spec string) (Trigger, error) {
	const op = "scheduler.ParseTrigger"

	kind, arg, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, errdefs.Errorf(errdefs.KindInvalidArg, "%s: bad spec %q", op, spec)
	}

	switch kind {
	case "interval":
		every, err := time.ParseDuration(arg)
		if err != nil || every <= 0 {
			return nil, errdefs.Errorf(errdefs.KindInvalidArg, "%s: bad interval %q", op, arg)
		}
		return Interval{Every: every}, nil

	case "cron":
		return NewCron(arg)

	case "daily":
		hh, mm, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, errdefs.Errorf(errdefs.KindInvalidArg, "%s: bad daily time %q", op, arg)
		}
		h, err1 := strconv.Atoi(hh)
		m, err2 := strconv.Atoi(mm)
		if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			return nil, errdefs.Errorf(errdefs.KindInvalidArg, "%s: bad daily time %q", op, arg)
		}
		return Daily{HH: h, MM: m}, nil
	}
	return nil, errdefs.Errorf(errdefs.KindInvalidArg, "%s: unknown trigger kind %q", op, kind)
}
