// Package lifecycle owns the appointment status machine: which transitions exist, their guards, and
// the fields each transition writes. Nothing else mutates Appointment.Status.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
)

type Trigger string

const (
	TriggerConfirm    Trigger = "confirm"
	TriggerStart      Trigger = "start"
	TriggerComplete   Trigger = "complete"
	TriggerCancel     Trigger = "cancel"
	TriggerNoShow     Trigger = "no_show"
	TriggerReschedule Trigger = "reschedule"
)

// Outbox event types. EventBooked marks creation, which is not a transition.
const (
	EventBooked      = "booking.appointment.booked.v1"
	EventConfirmed   = "booking.appointment.confirmed.v1"
	EventStarted     = "booking.appointment.started.v1"
	EventCompleted   = "booking.appointment.completed.v1"
	EventCancelled   = "booking.appointment.cancelled.v1"
	EventNoShow      = "booking.appointment.no_show.v1"
	EventRescheduled = "booking.appointment.rescheduled.v1"
)

type rule struct {
	from  []model.Status
	to    model.Status
	event string
}

var rules = map[Trigger]rule{
	TriggerConfirm:    {from: []model.Status{model.StatusScheduled}, to: model.StatusConfirmed, event: EventConfirmed},
	TriggerStart:      {from: []model.Status{model.StatusScheduled, model.StatusConfirmed}, to: model.StatusInProgress, event: EventStarted},
	TriggerComplete:   {from: []model.Status{model.StatusInProgress}, to: model.StatusCompleted, event: EventCompleted},
	TriggerCancel:     {from: []model.Status{model.StatusScheduled, model.StatusConfirmed}, to: model.StatusCancelled, event: EventCancelled},
	TriggerNoShow:     {from: []model.Status{model.StatusScheduled}, to: model.StatusNoShow, event: EventNoShow},
	TriggerReschedule: {from: []model.Status{model.StatusScheduled, model.StatusConfirmed}, to: model.StatusRescheduled, event: EventRescheduled},
}

// Command is one requested transition plus the inputs its side effects need.
type Command struct {
	Trigger Trigger
	At      time.Time
	Actor   model.Actor

	Reason string // cancel

	FollowUpRequired bool       // complete
	FollowUpDate     *time.Time // complete
	Notes            string     // complete
}

// Target returns the status a trigger leads to.
func Target(t Trigger) (model.Status, bool) {
	r, ok := rules[t]
	return r.to, ok
}

// Allowed reports whether trigger t may fire from status s, ignoring time guards.
func Allowed(s model.Status, t Trigger) bool {
	r, ok := rules[t]
	if !ok {
		return false
	}
	for _, f := range r.from {
		if f == s {
			return true
		}
	}
	return false
}

// Apply validates cmd against appt and, on success, mutates appt and returns the event type to emit.
// Rejections wrap model.ErrInvalidTransition, except malformed follow-up data (ErrInvalidInput, ErrInvalidTime).
func Apply(appt *model.Appointment, cmd Command) (string, error) {
	r, ok := rules[cmd.Trigger]
	if !ok {
		return "", fmt.Errorf("%w: unknown trigger %q", model.ErrInvalidTransition, cmd.Trigger)
	}
	if !Allowed(appt.Status, cmd.Trigger) {
		return "", fmt.Errorf("%w: cannot %s an appointment that is %s", model.ErrInvalidTransition, cmd.Trigger, appt.Status)
	}
	if err := guard(appt, cmd); err != nil {
		return "", err
	}

	appt.Status = r.to
	appt.UpdatedAt = cmd.At
	switch cmd.Trigger {
	case TriggerCancel:
		at := cmd.At
		appt.CancelledAt = &at
		appt.CancelledBy = cmd.Actor.Role
		appt.CancellationReason = strings.TrimSpace(cmd.Reason)
	case TriggerComplete:
		appt.FollowUpRequired = cmd.FollowUpRequired
		appt.FollowUpDate = nil
		if cmd.FollowUpRequired && cmd.FollowUpDate != nil {
			d := *cmd.FollowUpDate
			appt.FollowUpDate = &d
		}
		if notes := strings.TrimSpace(cmd.Notes); notes != "" {
			appt.DoctorNotes = notes
		}
	}
	return r.event, nil
}

func guard(appt *model.Appointment, cmd Command) error {
	switch cmd.Trigger {
	case TriggerStart:
		if cmd.At.Before(appt.StartTime) {
			return fmt.Errorf("%w: consultation cannot start before %s", model.ErrInvalidTransition, appt.StartTime.Format(time.RFC3339))
		}
	case TriggerNoShow:
		if !cmd.At.After(appt.StartTime) {
			return fmt.Errorf("%w: appointment at %s is not overdue yet", model.ErrInvalidTransition, appt.StartTime.Format(time.RFC3339))
		}
	case TriggerComplete:
		if cmd.FollowUpRequired && cmd.FollowUpDate == nil {
			return fmt.Errorf("%w: follow-up date is required when a follow-up is required", model.ErrInvalidInput)
		}
		if cmd.FollowUpRequired && cmd.FollowUpDate.Before(appt.StartTime) {
			return fmt.Errorf("%w: follow-up date precedes the consultation", model.ErrInvalidTime)
		}
	}
	return nil
}

var permitted = map[Trigger][]model.ActorRole{
	TriggerConfirm:    {model.RoleDoctor, model.RoleAdmin},
	TriggerStart:      {model.RoleDoctor, model.RoleAdmin},
	TriggerComplete:   {model.RoleDoctor, model.RoleAdmin},
	TriggerCancel:     {model.RolePatient, model.RoleDoctor, model.RoleAdmin, model.RoleSystem},
	TriggerNoShow:     {model.RoleAdmin, model.RoleSystem},
	TriggerReschedule: {model.RolePatient, model.RoleDoctor, model.RoleAdmin},
}

// Permits reports whether an actor with role may fire trigger t.
func Permits(t Trigger, role model.ActorRole) bool {
	for _, r := range permitted[t] {
		if r == role {
			return true
		}
	}
	return false
}
