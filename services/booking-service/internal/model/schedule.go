package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ConsultationType string

const (
	ConsultationOnlineOnly   ConsultationType = "ONLINE_ONLY"
	ConsultationInPersonOnly ConsultationType = "IN_PERSON_ONLY"
	ConsultationBoth         ConsultationType = "BOTH"
)

// Supports reports whether a doctor with this consultation type accepts appointments of type t.
func (c ConsultationType) Supports(t AppointmentType) bool {
	switch c {
	case ConsultationBoth:
		return t == AppointmentOnline || t == AppointmentInPerson
	case ConsultationOnlineOnly:
		return t == AppointmentOnline
	case ConsultationInPersonOnly:
		return t == AppointmentInPerson
	}
	return false
}

type Session string

const (
	SessionMorning Session = "MORNING"
	SessionEvening Session = "EVENING"
)

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (a trailing ":SS" is accepted and ignored).
func ParseClock(raw string) (ClockTime, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ClockTime{}, fmt.Errorf("invalid clock time %q", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", raw)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// On returns the instant of c on the given calendar day in loc.
func (c ClockTime) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, c.Hour, c.Minute, 0, 0, loc)
}

// Window is an optional session window. A nil Start or End disables the session.
type Window struct {
	Start *ClockTime
	End   *ClockTime
}

func (w Window) Enabled() bool { return w.Start != nil && w.End != nil }

// DoctorSchedule is owned by doctor-profile management and is read-only here.
type DoctorSchedule struct {
	DoctorID            string
	Morning             Window
	Evening             Window
	SlotDurationMinutes int
	IsAvailable         bool
	ConsultationType    ConsultationType
	ConsultationFee     string
	// WorkingDays restricts the weekdays with sessions; empty means every day.
	WorkingDays []time.Weekday
	// Timezone is an IANA zone name for the session windows; empty means UTC.
	Timezone string
}

const (
	MinSlotDurationMinutes = 15
	MaxSlotDurationMinutes = 120
)

// Validate checks the structural invariants of the configuration.
func (s DoctorSchedule) Validate() error {
	if strings.TrimSpace(s.DoctorID) == "" {
		return fmt.Errorf("doctor id is required")
	}
	if s.SlotDurationMinutes < MinSlotDurationMinutes || s.SlotDurationMinutes > MaxSlotDurationMinutes {
		return fmt.Errorf("slot duration must be within [%d,%d] minutes (got %d)", MinSlotDurationMinutes, MaxSlotDurationMinutes, s.SlotDurationMinutes)
	}
	for name, w := range map[string]Window{"morning": s.Morning, "evening": s.Evening} {
		if (w.Start == nil) != (w.End == nil) {
			return fmt.Errorf("%s window must set both start and end", name)
		}
		if w.Enabled() && w.End.Minutes() <= w.Start.Minutes() {
			return fmt.Errorf("%s window end %s must be after start %s", name, w.End, w.Start)
		}
	}
	if s.Morning.Enabled() && s.Evening.Enabled() && s.Evening.Start.Minutes() < s.Morning.End.Minutes() {
		return fmt.Errorf("evening window %s-%s must start at or after the morning window ends at %s", s.Evening.Start, s.Evening.End, s.Morning.End)
	}
	switch s.ConsultationType {
	case ConsultationOnlineOnly, ConsultationInPersonOnly, ConsultationBoth:
	default:
		return fmt.Errorf("unknown consultation type %q", s.ConsultationType)
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	return nil
}

func (s DoctorSchedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

func (s DoctorSchedule) WorksOn(day time.Weekday) bool {
	if len(s.WorkingDays) == 0 {
		return true
	}
	for _, d := range s.WorkingDays {
		if d == day {
			return true
		}
	}
	return false
}
