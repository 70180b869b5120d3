package storage

import (
	"context"
	"time"

	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
	"github.com/rishith2903/medreserve/services/booking-service/internal/outbox"
)

// Tx is a unit of work scoped to one doctor. Every Tx for the same doctor is serialized,
// so a conflict check followed by Insert cannot interleave with another booking for that doctor.
type Tx interface {
	ListActive(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error)
	GetForUpdate(ctx context.Context, id string) (model.Appointment, error)
	Insert(ctx context.Context, appt model.Appointment) error
	Update(ctx context.Context, appt model.Appointment) error
	Emit(ctx context.Context, evt outbox.Event) error
	// RecordNotice returns false when the (appointment, kind) notice was already recorded.
	RecordNotice(ctx context.Context, appointmentID, kind string) (bool, error)
}

// TxFunc runs inside a doctor-scoped unit of work. Returning an error discards every write.
type TxFunc func(ctx context.Context, tx Tx) error

// Notice kinds recorded by the sweep so each appointment is announced at most once per kind.
const (
	NoticeReminder = "reminder"
	NoticeFollowUp = "follow_up"
)

// window returns the query bounds used when a caller leaves from/to zero.
func window(from, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return from, to
}
