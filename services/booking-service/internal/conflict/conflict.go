package conflict

import (
	"context"
	"time"

	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps is the half-open test: [a0,a1) and [b0,b1) overlap iff a0 < b1 && b0 < a1.
// Back-to-back intervals (a1 == b0) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func AnyOverlap(iv Interval, busy []Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}

// Busy returns the intervals occupied by active appointments, skipping excludeID.
func Busy(appts []model.Appointment, excludeID string) []Interval {
	out := make([]Interval, 0, len(appts))
	for _, a := range appts {
		if !a.IsActive() || (excludeID != "" && a.ID == excludeID) {
			continue
		}
		out = append(out, Interval{Start: a.StartTime, End: a.EndTime})
	}
	return out
}

// Source lists a doctor's active appointments that intersect [from, to).
// Inside a booking transaction it must read through that transaction.
type Source interface {
	ListActive(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error)
}

// HasConflict reports whether [start, end) overlaps any active appointment of doctorID other than excludeID.
func HasConflict(ctx context.Context, src Source, doctorID string, start, end time.Time, excludeID string) (bool, error) {
	appts, err := src.ListActive(ctx, doctorID, start, end)
	if err != nil {
		return false, err
	}
	return AnyOverlap(Interval{Start: start, End: end}, Busy(appts, excludeID)), nil
}
