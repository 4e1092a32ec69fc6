// Package copyclock provides the time arithmetic the replication engine
// depends on: the local-midnight boundary for the daily-loss window and the
// daily cutoff used by the delayed copy scheduler.
package copyclock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Eastern is the default exchange-local timezone (UTC−5:00 standard time).
// Loaded lazily so binaries without tzdata still start; callers can override
// via Cutoff.Loc.
var Eastern = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// Cutoff is a fixed local time of day at which deferred copies flush.
type Cutoff struct {
	Hour   int
	Minute int
	Loc    *time.Location
}

// ParseCutoff parses "HH:MM" into a Cutoff in the given location.
func ParseCutoff(s string, loc *time.Location) (Cutoff, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return Cutoff{}, fmt.Errorf("cutoff: expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Cutoff{}, fmt.Errorf("cutoff: invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Cutoff{}, fmt.Errorf("cutoff: invalid minute in %q", s)
	}
	return Cutoff{Hour: h, Minute: m, Loc: loc}, nil
}

// At returns the cutoff instant on the day of t.
func (c Cutoff) At(t time.Time) time.Time {
	lt := t.In(c.Loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), c.Hour, c.Minute, 0, 0, c.Loc)
}

// Next returns the next cutoff strictly after t: today's cutoff if t is
// before it, otherwise the following day's.
func (c Cutoff) Next(t time.Time) time.Time {
	today := c.At(t)
	if t.In(c.Loc).Before(today) {
		return today
	}
	return today.AddDate(0, 0, 1)
}

// Until returns the duration from t to the next cutoff.
func (c Cutoff) Until(t time.Time) time.Duration {
	return c.Next(t).Sub(t)
}

// Midnight returns the start of t's day in loc — the opening boundary of the
// realized daily-loss window.
func Midnight(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
