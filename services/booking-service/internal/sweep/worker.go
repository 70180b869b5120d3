package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
	"github.com/rishith2903/medreserve/services/booking-service/internal/outbox"
	"github.com/rishith2903/medreserve/services/booking-service/internal/reminders"
	"github.com/rishith2903/medreserve/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	EventReminderDue = "booking.reminder.due.v1"
	EventFollowUpDue = "booking.followup.due.v1"
)

// Store is what the worker needs from the appointment store.
type Store interface {
	reminders.Reader
	InDoctorTx(ctx context.Context, doctorID string, fn storage.TxFunc) error
}

// NoShowMarker closes overdue appointments through the booking workflow.
type NoShowMarker interface {
	MarkNoShow(ctx context.Context, id string, actor model.Actor) (model.Appointment, error)
}

// SystemActor is the identity the sweep acts under.
var SystemActor = model.Actor{ID: "booking-sweep", Role: model.RoleSystem}

type Worker struct {
	store    Store
	finder   *reminders.Finder
	noShow   NoShowMarker
	logger   *slog.Logger
	interval time.Duration
	lead     time.Duration
	grace    time.Duration
	now      func() time.Time
}

type WorkerConfig struct {
	Interval time.Duration
	// ReminderLead is how far ahead of the start time a reminder is due.
	ReminderLead time.Duration
	// NoShowGrace is how long after the start time a SCHEDULED appointment becomes a no-show.
	NoShowGrace time.Duration
	Now         func() time.Time
}

func NewWorker(store Store, noShow NoShowMarker, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 24 * time.Hour
	}
	if cfg.NoShowGrace < 0 {
		cfg.NoShowGrace = 0
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Worker{
		store:    store,
		finder:   reminders.NewFinder(store),
		noShow:   noShow,
		logger:   logger,
		interval: cfg.Interval,
		lead:     cfg.ReminderLead,
		grace:    cfg.NoShowGrace,
		now:      cfg.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := w.Sweep(ctx)
			if err != nil {
				w.logger.Error("sweep failed", "err", err)
				continue
			}
			if res != (Result{}) {
				w.logger.Info("sweep finished", "reminders", res.Reminders, "follow_ups", res.FollowUps, "no_shows", res.NoShows)
			}
		}
	}
}

type Result struct {
	Reminders int
	FollowUps int
	NoShows   int
}

// Sweep runs one pass. Per-appointment failures are logged and skipped; the returned error joins the
// failures of the candidate queries themselves.
func (w *Worker) Sweep(ctx context.Context) (res Result, err error) {
	ctx, span := otel.Tracer("booking-service/sweep").Start(ctx, "sweep.run")
	defer func() {
		span.SetAttributes(
			attribute.Int("sweep.reminders", res.Reminders),
			attribute.Int("sweep.follow_ups", res.FollowUps),
			attribute.Int("sweep.no_shows", res.NoShows),
		)
		span.End()
	}()

	now := w.now()
	var errs []error

	// Everything starting within the lead is due. Appointments booked inside the lead, or whose turn
	// fell on a missed pass, are still picked up; the notice record keeps each reminder single.
	upcoming, err := w.finder.ForReminder(ctx, now, now.Add(w.lead))
	if err != nil {
		errs = append(errs, err)
	}
	for _, appt := range upcoming {
		if w.notify(ctx, appt, storage.NoticeReminder, EventReminderDue) {
			res.Reminders++
		}
	}

	followUps, err := w.finder.DueFollowUps(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	for _, appt := range followUps {
		if w.notify(ctx, appt, storage.NoticeFollowUp, EventFollowUpDue) {
			res.FollowUps++
		}
	}

	overdue, err := w.finder.Overdue(ctx, now.Add(-w.grace))
	if err != nil {
		errs = append(errs, err)
	}
	for _, appt := range overdue {
		if _, err := w.noShow.MarkNoShow(ctx, appt.ID, SystemActor); err != nil {
			// Someone else moved it on since the query ran.
			if errors.Is(err, model.ErrInvalidTransition) {
				continue
			}
			w.logger.Error("mark no-show failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		res.NoShows++
	}

	return res, errors.Join(errs...)
}

type noticePayload struct {
	AppointmentID   string `json:"appointment_id"`
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	StartTime       string `json:"start_time"`
	AppointmentType string `json:"appointment_type"`
	FollowUpDate    string `json:"follow_up_date,omitempty"`
	Kind            string `json:"kind"`
}

// notify records the notice and its outbox event together. It reports whether a new notice was written.
func (w *Worker) notify(ctx context.Context, appt model.Appointment, kind, eventType string) bool {
	payload := noticePayload{
		AppointmentID:   appt.ID,
		PatientID:       appt.PatientID,
		DoctorID:        appt.DoctorID,
		StartTime:       appt.StartTime.UTC().Format(time.RFC3339),
		AppointmentType: string(appt.Type),
		Kind:            kind,
	}
	if appt.FollowUpDate != nil {
		payload.FollowUpDate = appt.FollowUpDate.UTC().Format(time.RFC3339)
	}

	var fresh bool
	err := w.store.InDoctorTx(ctx, appt.DoctorID, func(ctx context.Context, tx storage.Tx) error {
		ok, err := tx.RecordNotice(ctx, appt.ID, kind)
		if err != nil || !ok {
			return err
		}
		evt, err := outbox.NewEvent("appointment", appt.ID, eventType, payload)
		if err != nil {
			return err
		}
		fresh = true
		return tx.Emit(ctx, evt)
	})
	if err != nil {
		w.logger.Error("record notice failed", "appointment_id", appt.ID, "kind", kind, "err", err)
		return false
	}
	return fresh
}
