package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rishith2903/medreserve/libs/db"
	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
	"github.com/rishith2903/medreserve/services/booking-service/internal/outbox"
)

const appointmentColumns = `
	id, patient_id, doctor_id, start_time, duration_minutes, end_time, status, appointment_type,
	COALESCE(chief_complaint, ''), COALESCE(symptoms, ''), COALESCE(consultation_fee::text, ''),
	COALESCE(cancellation_reason, ''), COALESCE(cancelled_by, ''), cancelled_at,
	follow_up_required, follow_up_date, COALESCE(doctor_notes, ''), COALESCE(rescheduled_from_id, ''),
	created_at, updated_at`

type Postgres struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgres(pool *db.Pool, outboxRepo *outbox.Repository) *Postgres {
	return &Postgres{pool: pool, outbox: outboxRepo}
}

// InDoctorTx takes a transaction-scoped advisory lock on the doctor before running fn.
// The exclusion constraint on appointments still rejects overlaps if a writer bypasses the lock.
func (p *Postgres) InDoctorTx(ctx context.Context, doctorID string, fn TxFunc) error {
	err := p.pool.InTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "doctor:"+doctorID); err != nil {
			return fmt.Errorf("lock doctor %s: %w", doctorID, err)
		}
		return fn(ctx, &pgTx{tx: tx, outbox: p.outbox})
	})
	return translate(err)
}

func (p *Postgres) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	return appt, nil
}

func (p *Postgres) ListActive(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	return listActive(ctx, p.pool, doctorID, from, to)
}

func (p *Postgres) ListByDoctor(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	from, to = window(from, to)
	return queryAppointments(ctx, p.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time ASC
	`, doctorID, from, to)
}

func (p *Postgres) ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	return queryAppointments(ctx, p.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time ASC
		LIMIT $2
	`, patientID, limit)
}

func (p *Postgres) ListStartingBetween(ctx context.Context, statuses []model.Status, from, to time.Time) ([]model.Appointment, error) {
	return queryAppointments(ctx, p.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ANY($1) AND start_time >= $2 AND start_time < $3
		ORDER BY start_time ASC
	`, statusStrings(statuses), from, to)
}

func (p *Postgres) ListStartedBefore(ctx context.Context, statuses []model.Status, before time.Time) ([]model.Appointment, error) {
	return queryAppointments(ctx, p.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ANY($1) AND start_time < $2
		ORDER BY start_time ASC
	`, statusStrings(statuses), before)
}

func (p *Postgres) ListDueFollowUps(ctx context.Context, now time.Time) ([]model.Appointment, error) {
	return queryAppointments(ctx, p.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'COMPLETED' AND follow_up_required AND follow_up_date <= $1
		ORDER BY follow_up_date ASC
	`, now)
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) ListActive(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	return listActive(ctx, t.tx, doctorID, from, to)
}

func (t *pgTx) GetForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	return appt, nil
}

func (t *pgTx) Insert(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, start_time, duration_minutes, end_time, status, appointment_type,
			chief_complaint, symptoms, consultation_fee, rescheduled_from_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, '')::numeric,
			NULLIF($12, ''), $13, $14)
	`, a.ID, a.PatientID, a.DoctorID, a.StartTime, a.DurationMinutes, a.EndTime, string(a.Status), string(a.Type),
		a.ChiefComplaint, a.Symptoms, a.ConsultationFee, a.RescheduledFromID, a.CreatedAt, a.UpdatedAt)
	return translate(err)
}

// Update persists lifecycle fields. Schedule and fee columns are immutable once inserted.
func (t *pgTx) Update(ctx context.Context, a model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			cancellation_reason = NULLIF($3, ''),
			cancelled_by = NULLIF($4, ''),
			cancelled_at = $5,
			follow_up_required = $6,
			follow_up_date = $7,
			doctor_notes = NULLIF($8, ''),
			updated_at = $9
		WHERE id = $1
	`, a.ID, string(a.Status), a.CancellationReason, string(a.CancelledBy), a.CancelledAt,
		a.FollowUpRequired, a.FollowUpDate, a.DoctorNotes, a.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment %s", model.ErrNotFound, a.ID)
	}
	return nil
}

func (t *pgTx) RecordNotice(ctx context.Context, appointmentID, kind string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO sweep_notices (appointment_id, kind)
		VALUES ($1, $2)
		ON CONFLICT (appointment_id, kind) DO NOTHING
	`, appointmentID, kind)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) Emit(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listActive(ctx context.Context, q querier, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	return queryAppointments(ctx, q, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
			AND status IN ('SCHEDULED', 'CONFIRMED', 'IN_PROGRESS')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, doctorID, from, to)
}

func queryAppointments(ctx context.Context, q querier, sql string, args ...any) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status, apptType, cancelledBy string
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.StartTime,
		&a.DurationMinutes,
		&a.EndTime,
		&status,
		&apptType,
		&a.ChiefComplaint,
		&a.Symptoms,
		&a.ConsultationFee,
		&a.CancellationReason,
		&cancelledBy,
		&a.CancelledAt,
		&a.FollowUpRequired,
		&a.FollowUpDate,
		&a.DoctorNotes,
		&a.RescheduledFromID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	a.Type = model.AppointmentType(apptType)
	a.CancelledBy = model.ActorRole(cancelledBy)
	return a, nil
}

func statusStrings(statuses []model.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// translate maps driver errors onto domain sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: appointment", model.ErrNotFound)
	case db.IsExclusionViolation(err):
		return fmt.Errorf("%w: overlapping appointment", model.ErrSlotConflict)
	}
	return err
}
