// Package schedule converts recurring weekly availability windows into
// concrete bookable slots, filtered against already-booked meetings.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/model"
)

// Options tunes slot generation. Zero values fall back to defaults.
type Options struct {
	SlotMinutes         int
	LookaheadDays       int
	ConflictHorizonDays int
	BufferMinutes       int
	ToleranceMinutes    int
	DefaultTimezone     string
}

func (o Options) withDefaults() Options {
	if o.SlotMinutes <= 0 {
		o.SlotMinutes = 15
	}
	if o.LookaheadDays <= 0 {
		o.LookaheadDays = 7
	}
	if o.ConflictHorizonDays <= 0 {
		o.ConflictHorizonDays = 14
	}
	if o.BufferMinutes <= 0 {
		o.BufferMinutes = 15
	}
	if o.ToleranceMinutes <= 0 {
		o.ToleranceMinutes = 1
	}
	if o.DefaultTimezone == "" {
		o.DefaultTimezone = "America/New_York"
	}
	return o
}

// Slot is one bookable instant with a localized display label.
type Slot struct {
	Time  time.Time `json:"time"`
	Label string    `json:"label"`
}

// MeetingLister is the slice of the store the engine needs.
type MeetingLister interface {
	ListMeetings(ctx context.Context, agencyID string, from, to time.Time) ([]model.Meeting, error)
}

// Engine computes availability grids. Slots are always recomputed on
// demand, never persisted.
type Engine struct {
	meetings MeetingLister
	opts     Options
	now      func() time.Time
}

func New(meetings MeetingLister, opts Options) *Engine {
	return &Engine{
		meetings: meetings,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// NewAt is New with an injectable clock, for tests.
func NewAt(meetings MeetingLister, opts Options, now func() time.Time) *Engine {
	e := New(meetings, opts)
	if now != nil {
		e.now = now
	}
	return e
}

type window struct {
	weekday  time.Weekday
	startMin int // minutes since midnight
	endMin   int
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// parseWindow parses a rule of the form "Mon 09:00-17:00".
func parseWindow(s string) (window, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return window{}, eris.Errorf("schedule: malformed window %q", s)
	}

	day, ok := weekdays[strings.ToLower(fields[0])]
	if !ok {
		return window{}, eris.Errorf("schedule: unknown weekday %q", fields[0])
	}

	startStr, endStr, ok := strings.Cut(fields[1], "-")
	if !ok {
		return window{}, eris.Errorf("schedule: malformed time range %q", fields[1])
	}
	start, err := parseMinuteOfDay(startStr)
	if err != nil {
		return window{}, err
	}
	end, err := parseMinuteOfDay(endStr)
	if err != nil {
		return window{}, err
	}
	if end <= start {
		return window{}, eris.Errorf("schedule: window end before start in %q", s)
	}
	return window{weekday: day, startMin: start, endMin: end}, nil
}

func parseMinuteOfDay(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, eris.Wrapf(err, "schedule: parse time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, eris.Errorf("schedule: time out of range %q", s)
	}
	return h*60 + m, nil
}

// Location resolves the agency timezone, falling back to the default.
func (e *Engine) Location(agency *model.Agency) *time.Location {
	tz := agency.Timezone
	if tz == "" {
		tz = e.opts.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		zap.L().Warn("schedule: bad agency timezone, using default",
			zap.String("agency_id", agency.ID),
			zap.String("timezone", tz))
		loc, _ = time.LoadLocation(e.opts.DefaultTimezone)
	}
	return loc
}

// Slots produces the chronologically sorted list of open slots for an
// agency over the lookahead horizon. Malformed window rules are skipped
// with a warning, never fatal.
func (e *Engine) Slots(ctx context.Context, agency *model.Agency) ([]Slot, error) {
	loc := e.Location(agency)
	now := e.now().In(loc)

	var windows []window
	for _, raw := range agency.AvailabilityWindows {
		w, err := parseWindow(raw)
		if err != nil {
			zap.L().Warn("schedule: skipping malformed availability window",
				zap.String("agency_id", agency.ID),
				zap.String("window", raw),
				zap.Error(err))
			continue
		}
		windows = append(windows, w)
	}
	if len(windows) == 0 {
		return nil, nil
	}

	horizon := now.Add(time.Duration(e.opts.ConflictHorizonDays) * 24 * time.Hour)
	meetings, err := e.meetings.ListMeetings(ctx, agency.ID, now, horizon)
	if err != nil {
		return nil, eris.Wrap(err, "schedule: load meetings")
	}

	buffer := time.Duration(e.opts.BufferMinutes) * time.Minute
	step := e.opts.SlotMinutes

	var slots []Slot
	for offset := 0; offset < e.opts.LookaheadDays; offset++ {
		day := now.AddDate(0, 0, offset)
		for _, w := range windows {
			if day.Weekday() != w.weekday {
				continue
			}
			for min := w.startMin; min < w.endMin; min += step {
				inst := time.Date(day.Year(), day.Month(), day.Day(), min/60, min%60, 0, 0, loc)
				if !inst.After(now) {
					continue
				}
				if conflicts(inst, meetings, buffer) {
					continue
				}
				slots = append(slots, Slot{
					Time:  inst,
					Label: inst.Format("Monday, Jan 2 at 3:04 PM MST"),
				})
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Time.Before(slots[j].Time) })
	return slots, nil
}

func conflicts(slot time.Time, meetings []model.Meeting, buffer time.Duration) bool {
	for _, m := range meetings {
		d := slot.Sub(m.MeetingTime)
		if d < 0 {
			d = -d
		}
		if d < buffer {
			return true
		}
	}
	return false
}

// Validate re-derives the live slot set and reports whether the proposed
// instant matches an open slot within the tolerance. It defends against
// staleness between when a time was proposed and when booking commits.
func (e *Engine) Validate(ctx context.Context, agency *model.Agency, proposed time.Time) (bool, error) {
	slots, err := e.Slots(ctx, agency)
	if err != nil {
		return false, err
	}

	tolerance := time.Duration(e.opts.ToleranceMinutes) * time.Minute
	for _, s := range slots {
		d := proposed.Sub(s.Time)
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return true, nil
		}
	}
	return false, nil
}
