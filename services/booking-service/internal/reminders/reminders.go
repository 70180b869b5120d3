// Package reminders selects appointments that need attention from notification and follow-up
// collaborators. It only reads.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
)

type Reader interface {
	ListStartingBetween(ctx context.Context, statuses []model.Status, from, to time.Time) ([]model.Appointment, error)
	ListStartedBefore(ctx context.Context, statuses []model.Status, before time.Time) ([]model.Appointment, error)
	ListDueFollowUps(ctx context.Context, now time.Time) ([]model.Appointment, error)
}

type Finder struct {
	reader Reader
}

func NewFinder(reader Reader) *Finder {
	return &Finder{reader: reader}
}

var reminderStatuses = []model.Status{model.StatusScheduled, model.StatusConfirmed}

// ForReminder returns SCHEDULED or CONFIRMED appointments starting in [windowStart, windowEnd).
func (f *Finder) ForReminder(ctx context.Context, windowStart, windowEnd time.Time) ([]model.Appointment, error) {
	if !windowEnd.After(windowStart) {
		return nil, fmt.Errorf("%w: reminder window end must be after its start", model.ErrInvalidInput)
	}
	return f.reader.ListStartingBetween(ctx, reminderStatuses, windowStart, windowEnd)
}

// DueFollowUps returns COMPLETED appointments whose follow-up date is at or before now.
func (f *Finder) DueFollowUps(ctx context.Context, now time.Time) ([]model.Appointment, error) {
	return f.reader.ListDueFollowUps(ctx, now)
}

// Overdue returns SCHEDULED appointments that started before now. These are no-show candidates.
func (f *Finder) Overdue(ctx context.Context, now time.Time) ([]model.Appointment, error) {
	return f.reader.ListStartedBefore(ctx, []model.Status{model.StatusScheduled}, now)
}
