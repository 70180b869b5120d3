package availability

import (
	"fmt"
	"time"

	"github.com/rishith2903/medreserve/services/booking-service/internal/conflict"
	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
)

type Slot struct {
	Start     time.Time
	End       time.Time
	Session   model.Session
	Available bool
}

// SessionWindow is a session's concrete [Start, End) on one calendar day.
type SessionWindow struct {
	Session model.Session
	conflict.Interval
}

// Windows returns the enabled session windows of schedule on the calendar day of date,
// interpreted in the schedule's timezone. A non-working weekday yields no windows. Sessions that
// overlap or run out of order are an error, so slots are always strictly chronological.
func Windows(schedule model.DoctorSchedule, date time.Time) ([]SessionWindow, error) {
	loc, err := schedule.Location()
	if err != nil {
		return nil, err
	}
	y, m, d := date.In(loc).Date()
	if !schedule.WorksOn(time.Date(y, m, d, 12, 0, 0, 0, loc).Weekday()) {
		return nil, nil
	}

	var out []SessionWindow
	for _, s := range []struct {
		session model.Session
		window  model.Window
	}{
		{model.SessionMorning, schedule.Morning},
		{model.SessionEvening, schedule.Evening},
	} {
		if !s.window.Enabled() {
			continue
		}
		start := s.window.Start.On(y, m, d, loc)
		end := s.window.End.On(y, m, d, loc)
		if !end.After(start) {
			continue
		}
		out = append(out, SessionWindow{Session: s.session, Interval: conflict.Interval{Start: start, End: end}})
	}
	if len(out) == 2 && out[1].Start.Before(out[0].End) {
		return nil, fmt.Errorf("doctor %s: evening session overlaps or precedes the morning session", schedule.DoctorID)
	}
	return out, nil
}

// Candidates steps through every session window in slot-duration increments and emits each slot
// that ends at or before the window end. Every slot starts out available.
func Candidates(schedule model.DoctorSchedule, date time.Time) ([]Slot, error) {
	windows, err := Windows(schedule, date)
	if err != nil {
		return nil, err
	}
	step := time.Duration(schedule.SlotDurationMinutes) * time.Minute
	if step <= 0 {
		return nil, nil
	}

	var slots []Slot
	for _, w := range windows {
		for t := w.Start; !t.Add(step).After(w.End); t = t.Add(step) {
			slots = append(slots, Slot{Start: t, End: t.Add(step), Session: w.Session, Available: true})
		}
	}
	return slots, nil
}

// ComputeSlots returns the day's slots in chronological order. A slot is unavailable when the doctor
// is unavailable, when it starts at or before now, or when it overlaps any busy interval.
func ComputeSlots(schedule model.DoctorSchedule, date, now time.Time, busy []conflict.Interval) ([]Slot, error) {
	slots, err := Candidates(schedule, date)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		s := &slots[i]
		switch {
		case !schedule.IsAvailable:
			s.Available = false
		case !s.Start.After(now):
			s.Available = false
		case conflict.AnyOverlap(conflict.Interval{Start: s.Start, End: s.End}, busy):
			s.Available = false
		}
	}
	return slots, nil
}

// Admit reports whether [start, start+durationMinutes) lies inside one of the day's session windows
// and returns that window. The start need not sit on the slot grid.
func Admit(schedule model.DoctorSchedule, start time.Time, durationMinutes int) (SessionWindow, bool, error) {
	if durationMinutes <= 0 {
		return SessionWindow{}, false, nil
	}
	windows, err := Windows(schedule, start)
	if err != nil {
		return SessionWindow{}, false, err
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	for _, w := range windows {
		if !start.Before(w.Start) && !end.After(w.End) {
			return w, true, nil
		}
	}
	return SessionWindow{}, false, nil
}

// DayBounds returns the earliest window start and latest window end of the day, or ok=false when the
// doctor has no session that day.
func DayBounds(windows []SessionWindow) (conflict.Interval, bool) {
	var out conflict.Interval
	for _, w := range windows {
		if out.Start.IsZero() || w.Start.Before(out.Start) {
			out.Start = w.Start
		}
		if out.End.IsZero() || w.End.After(out.End) {
			out.End = w.End
		}
	}
	return out, !out.Start.IsZero()
}
