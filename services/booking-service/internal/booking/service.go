// Package booking is the entry point for every appointment mutation. It validates requests against the
// doctor's schedule, runs conflict checks and writes inside one doctor-scoped unit of work, and records
// an outbox event for each committed change.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/rishith2903/medreserve/libs/otel"
	"github.com/rishith2903/medreserve/services/booking-service/internal/availability"
	"github.com/rishith2903/medreserve/services/booking-service/internal/conflict"
	"github.com/rishith2903/medreserve/services/booking-service/internal/directory"
	"github.com/rishith2903/medreserve/services/booking-service/internal/lifecycle"
	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
	"github.com/rishith2903/medreserve/services/booking-service/internal/outbox"
	"github.com/rishith2903/medreserve/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Store is the appointment store as seen by the workflow.
type Store interface {
	InDoctorTx(ctx context.Context, doctorID string, fn storage.TxFunc) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListActive(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error)
}

type Service struct {
	store     Store
	directory directory.Provider
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

// WithClock overrides the wall clock used for every "now" decision.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store Store, dir directory.Provider, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: dir,
		logger:    logger,
		tracer:    otel.Tracer("booking-service/booking"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type BookRequest struct {
	PatientID string
	DoctorID  string
	Start     time.Time
	// DurationMinutes defaults to the doctor's slot duration when zero.
	DurationMinutes int
	Type            model.AppointmentType
	ChiefComplaint  string
	Symptoms        string
}

func (s *Service) Book(ctx context.Context, req BookRequest) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("doctor.id", req.DoctorID),
		attribute.String("appointment.start", req.Start.UTC().Format(time.RFC3339)),
	))
	defer func() { otelx.EndSpan(span, err) }()

	req.PatientID = strings.TrimSpace(req.PatientID)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	if req.PatientID == "" || req.DoctorID == "" {
		return model.Appointment{}, fmt.Errorf("%w: patient_id and doctor_id are required", model.ErrInvalidInput)
	}
	if !req.Type.Valid() {
		return model.Appointment{}, fmt.Errorf("%w: unknown appointment type %q", model.ErrInvalidInput, req.Type)
	}
	if req.DurationMinutes < 0 {
		return model.Appointment{}, fmt.Errorf("%w: duration must be positive", model.ErrInvalidInput)
	}

	now := s.now()
	if !req.Start.After(now) {
		return model.Appointment{}, fmt.Errorf("%w: requested start %s is not in the future", model.ErrInvalidTime, req.Start.Format(time.RFC3339))
	}

	schedule, err := s.bookableSchedule(ctx, req.DoctorID, req.Type)
	if err != nil {
		return model.Appointment{}, err
	}
	exists, err := s.directory.PatientExists(ctx, req.PatientID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !exists {
		return model.Appointment{}, fmt.Errorf("%w: patient %s", model.ErrNotFound, req.PatientID)
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = schedule.SlotDurationMinutes
	}
	if err := admit(schedule, req.Start, duration); err != nil {
		return model.Appointment{}, err
	}

	appt = model.Appointment{
		ID:              s.newID(),
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		Status:          model.StatusScheduled,
		Type:            req.Type,
		ChiefComplaint:  strings.TrimSpace(req.ChiefComplaint),
		Symptoms:        strings.TrimSpace(req.Symptoms),
		ConsultationFee: schedule.ConsultationFee,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	appt.SetTime(req.Start, duration)

	err = s.store.InDoctorTx(ctx, appt.DoctorID, func(ctx context.Context, tx storage.Tx) error {
		if err := ensureFree(ctx, tx, appt, ""); err != nil {
			return err
		}
		if err := tx.Insert(ctx, appt); err != nil {
			return err
		}
		return emit(ctx, tx, lifecycle.EventBooked, appt, eventDetails{})
	})
	if err != nil {
		return model.Appointment{}, err
	}

	span.SetAttributes(attribute.String("appointment.id", appt.ID))
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_id", appt.DoctorID,
		"patient_id", appt.PatientID,
		"start_time", appt.StartTime.UTC().Format(time.RFC3339),
		"duration_minutes", appt.DurationMinutes,
	)
	return appt, nil
}

type CancelRequest struct {
	AppointmentID string
	Actor         model.Actor
	Reason        string
}

// Cancel is not idempotent: a second cancel fails with model.ErrInvalidTransition.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (model.Appointment, error) {
	return s.transition(ctx, req.AppointmentID, req.Actor, lifecycle.Command{
		Trigger: lifecycle.TriggerCancel,
		Reason:  req.Reason,
	})
}

type RescheduleRequest struct {
	AppointmentID string
	Actor         model.Actor
	NewStart      time.Time
	// DurationMinutes keeps the current duration when zero.
	DurationMinutes int
}

// Reschedule retires the current record as RESCHEDULED and returns the new SCHEDULED record that
// replaces it. Both writes commit together; the new record keeps the original fee snapshot.
// Two events are emitted: rescheduled for the old record, then booked for the replacement.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (next model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Reschedule", trace.WithAttributes(
		attribute.String("appointment.id", req.AppointmentID),
	))
	defer func() { otelx.EndSpan(span, err) }()

	if !lifecycle.Permits(lifecycle.TriggerReschedule, req.Actor.Role) {
		return model.Appointment{}, fmt.Errorf("%w: %s may not reschedule", model.ErrForbidden, roleName(req.Actor.Role))
	}
	if req.DurationMinutes < 0 {
		return model.Appointment{}, fmt.Errorf("%w: duration must be positive", model.ErrInvalidInput)
	}
	current, err := s.authorizedGet(ctx, req.AppointmentID, req.Actor)
	if err != nil {
		return model.Appointment{}, err
	}
	if !current.CanBeRescheduled() {
		return model.Appointment{}, fmt.Errorf("%w: cannot reschedule an appointment that is %s", model.ErrInvalidTransition, current.Status)
	}

	now := s.now()
	if !req.NewStart.After(now) {
		return model.Appointment{}, fmt.Errorf("%w: requested start %s is not in the future", model.ErrInvalidTime, req.NewStart.Format(time.RFC3339))
	}
	schedule, err := s.bookableSchedule(ctx, current.DoctorID, current.Type)
	if err != nil {
		return model.Appointment{}, err
	}
	duration := req.DurationMinutes
	if duration == 0 {
		duration = current.DurationMinutes
	}
	if err := admit(schedule, req.NewStart, duration); err != nil {
		return model.Appointment{}, err
	}

	err = s.store.InDoctorTx(ctx, current.DoctorID, func(ctx context.Context, tx storage.Tx) error {
		old, err := tx.GetForUpdate(ctx, current.ID)
		if err != nil {
			return err
		}
		next = model.Appointment{
			ID:                s.newID(),
			PatientID:         old.PatientID,
			DoctorID:          old.DoctorID,
			Status:            model.StatusScheduled,
			Type:              old.Type,
			ChiefComplaint:    old.ChiefComplaint,
			Symptoms:          old.Symptoms,
			ConsultationFee:   old.ConsultationFee,
			RescheduledFromID: old.ID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		next.SetTime(req.NewStart, duration)

		if err := ensureFree(ctx, tx, next, old.ID); err != nil {
			return err
		}
		eventType, err := lifecycle.Apply(&old, lifecycle.Command{Trigger: lifecycle.TriggerReschedule, At: now, Actor: req.Actor})
		if err != nil {
			return err
		}
		// The retired record stops blocking before the replacement is written.
		if err := tx.Update(ctx, old); err != nil {
			return err
		}
		if err := tx.Insert(ctx, next); err != nil {
			return err
		}
		if err := emit(ctx, tx, eventType, old, eventDetails{Actor: req.Actor.Role, RescheduledToID: next.ID}); err != nil {
			return err
		}
		// The replacement is announced like any new booking, carrying rescheduled_from_id.
		return emit(ctx, tx, lifecycle.EventBooked, next, eventDetails{Actor: req.Actor.Role})
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment rescheduled",
		"appointment_id", current.ID,
		"new_appointment_id", next.ID,
		"doctor_id", next.DoctorID,
		"start_time", next.StartTime.UTC().Format(time.RFC3339),
	)
	return next, nil
}

func (s *Service) Confirm(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	return s.transition(ctx, id, actor, lifecycle.Command{Trigger: lifecycle.TriggerConfirm})
}

func (s *Service) Start(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	return s.transition(ctx, id, actor, lifecycle.Command{Trigger: lifecycle.TriggerStart})
}

type CompleteRequest struct {
	AppointmentID    string
	Actor            model.Actor
	FollowUpRequired bool
	FollowUpDate     *time.Time
	Notes            string
}

func (s *Service) Complete(ctx context.Context, req CompleteRequest) (model.Appointment, error) {
	return s.transition(ctx, req.AppointmentID, req.Actor, lifecycle.Command{
		Trigger:          lifecycle.TriggerComplete,
		FollowUpRequired: req.FollowUpRequired,
		FollowUpDate:     req.FollowUpDate,
		Notes:            req.Notes,
	})
}

// MarkNoShow closes an overdue SCHEDULED appointment.
func (s *Service) MarkNoShow(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	return s.transition(ctx, id, actor, lifecycle.Command{Trigger: lifecycle.TriggerNoShow})
}

func (s *Service) transition(ctx context.Context, id string, actor model.Actor, cmd lifecycle.Command) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking."+string(cmd.Trigger), trace.WithAttributes(
		attribute.String("appointment.id", id),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer func() { otelx.EndSpan(span, err) }()

	if !lifecycle.Permits(cmd.Trigger, actor.Role) {
		return model.Appointment{}, fmt.Errorf("%w: %s may not %s", model.ErrForbidden, roleName(actor.Role), cmd.Trigger)
	}
	current, err := s.authorizedGet(ctx, id, actor)
	if err != nil {
		return model.Appointment{}, err
	}

	cmd.Actor = actor
	err = s.store.InDoctorTx(ctx, current.DoctorID, func(ctx context.Context, tx storage.Tx) error {
		locked, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		cmd.At = s.now()
		eventType, err := lifecycle.Apply(&locked, cmd)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, locked); err != nil {
			return err
		}
		appt = locked
		return emit(ctx, tx, eventType, locked, eventDetails{Actor: actor.Role, Reason: locked.CancellationReason})
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment transitioned",
		"appointment_id", appt.ID,
		"trigger", string(cmd.Trigger),
		"status", string(appt.Status),
		"actor_role", string(actor.Role),
	)
	return appt, nil
}

// Slots computes the doctor's slots for the calendar day written in date (year, month, day only),
// interpreted in the doctor's timezone.
func (s *Service) Slots(ctx context.Context, doctorID string, date time.Time) (slots []availability.Slot, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Slots", trace.WithAttributes(attribute.String("doctor.id", doctorID)))
	defer func() { otelx.EndSpan(span, err) }()

	schedule, err := s.directory.Schedule(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	loc, err := schedule.Location()
	if err != nil {
		return nil, err
	}
	y, m, d := date.Date()
	day := time.Date(y, m, d, 12, 0, 0, 0, loc)

	windows, err := availability.Windows(schedule, day)
	if err != nil {
		return nil, err
	}
	bounds, ok := availability.DayBounds(windows)
	if !ok {
		return []availability.Slot{}, nil
	}
	appts, err := s.store.ListActive(ctx, doctorID, bounds.Start, bounds.End)
	if err != nil {
		return nil, err
	}
	return availability.ComputeSlots(schedule, day, s.now(), conflict.Busy(appts, ""))
}

// Get returns the appointment when actor may see it. Other parties get model.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	return s.authorizedGet(ctx, id, actor)
}

func (s *Service) ListForDoctor(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	if !to.IsZero() && !from.IsZero() && !to.After(from) {
		return nil, fmt.Errorf("%w: range end must be after start", model.ErrInvalidInput)
	}
	return s.store.ListByDoctor(ctx, doctorID, from, to)
}

func (s *Service) ListForPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error) {
	return s.store.ListByPatient(ctx, patientID, limit)
}

func (s *Service) authorizedGet(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Appointment{}, fmt.Errorf("%w: appointment id is required", model.ErrInvalidInput)
	}
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.InvolvesActor(actor) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	return appt, nil
}

// bookableSchedule loads the doctor's schedule and checks that new appointments of apptType are accepted.
func (s *Service) bookableSchedule(ctx context.Context, doctorID string, apptType model.AppointmentType) (model.DoctorSchedule, error) {
	schedule, err := s.directory.Schedule(ctx, doctorID)
	if err != nil {
		return model.DoctorSchedule{}, err
	}
	if !schedule.IsAvailable {
		return model.DoctorSchedule{}, fmt.Errorf("%w: doctor %s is not accepting appointments", model.ErrDoctorUnavailable, doctorID)
	}
	if !schedule.ConsultationType.Supports(apptType) {
		return model.DoctorSchedule{}, fmt.Errorf("%w: doctor %s does not offer %s consultations", model.ErrDoctorUnavailable, doctorID, apptType)
	}
	return schedule, nil
}

func admit(schedule model.DoctorSchedule, start time.Time, durationMinutes int) error {
	_, ok, err := availability.Admit(schedule, start, durationMinutes)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s for %d minutes is outside the doctor's sessions", model.ErrInvalidTime, start.Format(time.RFC3339), durationMinutes)
	}
	return nil
}

func ensureFree(ctx context.Context, tx storage.Tx, appt model.Appointment, excludeID string) error {
	clash, err := conflict.HasConflict(ctx, tx, appt.DoctorID, appt.StartTime, appt.EndTime, excludeID)
	if err != nil {
		return err
	}
	if clash {
		return fmt.Errorf("%w: doctor %s is already booked at %s", model.ErrSlotConflict, appt.DoctorID, appt.StartTime.Format(time.RFC3339))
	}
	return nil
}

func roleName(r model.ActorRole) string {
	if r == "" {
		return "anonymous caller"
	}
	return strings.ToLower(string(r))
}

type eventDetails struct {
	Actor           model.ActorRole
	Reason          string
	RescheduledToID string
}

type appointmentEvent struct {
	AppointmentID     string `json:"appointment_id"`
	PatientID         string `json:"patient_id"`
	DoctorID          string `json:"doctor_id"`
	Status            string `json:"status"`
	Type              string `json:"appointment_type"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	ConsultationFee   string `json:"consultation_fee,omitempty"`
	ActorRole         string `json:"actor_role,omitempty"`
	Reason            string `json:"reason,omitempty"`
	RescheduledFromID string `json:"rescheduled_from_id,omitempty"`
	RescheduledToID   string `json:"rescheduled_to_id,omitempty"`
	FollowUpRequired  bool   `json:"follow_up_required,omitempty"`
	FollowUpDate      string `json:"follow_up_date,omitempty"`
	OccurredAt        string `json:"occurred_at"`
}

func emit(ctx context.Context, tx storage.Tx, eventType string, appt model.Appointment, d eventDetails) error {
	payload := appointmentEvent{
		AppointmentID:     appt.ID,
		PatientID:         appt.PatientID,
		DoctorID:          appt.DoctorID,
		Status:            string(appt.Status),
		Type:              string(appt.Type),
		StartTime:         appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:           appt.EndTime.UTC().Format(time.RFC3339),
		ConsultationFee:   appt.ConsultationFee,
		ActorRole:         string(d.Actor),
		Reason:            d.Reason,
		RescheduledFromID: appt.RescheduledFromID,
		RescheduledToID:   d.RescheduledToID,
		FollowUpRequired:  appt.FollowUpRequired,
		OccurredAt:        appt.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if appt.FollowUpDate != nil {
		payload.FollowUpDate = appt.FollowUpDate.UTC().Format(time.RFC3339)
	}
	evt, err := outbox.NewEvent("appointment", appt.ID, eventType, payload)
	if err != nil {
		return err
	}
	return tx.Emit(ctx, evt)
}
