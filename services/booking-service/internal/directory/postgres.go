package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rishith2903/medreserve/libs/db"
	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
)

// Postgres reads the doctor_schedules and patients tables maintained by the profile services.
type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Schedule(ctx context.Context, doctorID string) (model.DoctorSchedule, error) {
	var rec scheduleRecord
	var days []int32
	err := p.pool.QueryRow(ctx, `
		SELECT doctor_id,
			COALESCE(morning_start, ''), COALESCE(morning_end, ''),
			COALESCE(evening_start, ''), COALESCE(evening_end, ''),
			slot_duration_minutes, is_available, consultation_type,
			COALESCE(consultation_fee::text, ''), working_days, timezone
		FROM doctor_schedules
		WHERE doctor_id = $1
	`, doctorID).Scan(
		&rec.DoctorID,
		&rec.MorningStart,
		&rec.MorningEnd,
		&rec.EveningStart,
		&rec.EveningEnd,
		&rec.SlotDurationMinutes,
		&rec.IsAvailable,
		&rec.ConsultationType,
		&rec.ConsultationFee,
		&days,
		&rec.Timezone,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DoctorSchedule{}, notFound(doctorID)
	}
	if err != nil {
		return model.DoctorSchedule{}, err
	}
	for _, d := range days {
		rec.WorkingDays = append(rec.WorkingDays, int(d))
	}
	schedule, err := rec.schedule()
	if err != nil {
		return model.DoctorSchedule{}, fmt.Errorf("doctor %s has an invalid schedule: %w", doctorID, err)
	}
	return schedule, nil
}

func (p *Postgres) PatientExists(ctx context.Context, patientID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE patient_id = $1)`, patientID).Scan(&exists)
	return exists, err
}
