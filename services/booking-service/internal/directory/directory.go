package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
)

// Provider looks up doctor schedules and patients owned by the profile services.
// Schedule returns an error wrapping model.ErrNotFound for unknown doctors.
type Provider interface {
	Schedule(ctx context.Context, doctorID string) (model.DoctorSchedule, error)
	PatientExists(ctx context.Context, patientID string) (bool, error)
}

// scheduleRecord is the flat wire and cache form of a DoctorSchedule.
type scheduleRecord struct {
	DoctorID            string `json:"doctor_id"`
	MorningStart        string `json:"morning_start,omitempty"`
	MorningEnd          string `json:"morning_end,omitempty"`
	EveningStart        string `json:"evening_start,omitempty"`
	EveningEnd          string `json:"evening_end,omitempty"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	IsAvailable         bool   `json:"is_available"`
	ConsultationType    string `json:"consultation_type"`
	ConsultationFee     string `json:"consultation_fee,omitempty"`
	WorkingDays         []int  `json:"working_days,omitempty"`
	Timezone            string `json:"timezone,omitempty"`
}

func toRecord(s model.DoctorSchedule) scheduleRecord {
	rec := scheduleRecord{
		DoctorID:            s.DoctorID,
		SlotDurationMinutes: s.SlotDurationMinutes,
		IsAvailable:         s.IsAvailable,
		ConsultationType:    string(s.ConsultationType),
		ConsultationFee:     s.ConsultationFee,
		Timezone:            s.Timezone,
	}
	if s.Morning.Enabled() {
		rec.MorningStart, rec.MorningEnd = s.Morning.Start.String(), s.Morning.End.String()
	}
	if s.Evening.Enabled() {
		rec.EveningStart, rec.EveningEnd = s.Evening.Start.String(), s.Evening.End.String()
	}
	for _, d := range s.WorkingDays {
		rec.WorkingDays = append(rec.WorkingDays, int(d))
	}
	return rec
}

func (r scheduleRecord) schedule() (model.DoctorSchedule, error) {
	s := model.DoctorSchedule{
		DoctorID:            r.DoctorID,
		SlotDurationMinutes: r.SlotDurationMinutes,
		IsAvailable:         r.IsAvailable,
		ConsultationType:    model.ConsultationType(r.ConsultationType),
		ConsultationFee:     r.ConsultationFee,
		Timezone:            r.Timezone,
	}
	var err error
	if s.Morning, err = parseWindow(r.MorningStart, r.MorningEnd); err != nil {
		return model.DoctorSchedule{}, fmt.Errorf("morning: %w", err)
	}
	if s.Evening, err = parseWindow(r.EveningStart, r.EveningEnd); err != nil {
		return model.DoctorSchedule{}, fmt.Errorf("evening: %w", err)
	}
	for _, d := range r.WorkingDays {
		if d < int(time.Sunday) || d > int(time.Saturday) {
			return model.DoctorSchedule{}, fmt.Errorf("invalid working day %d", d)
		}
		s.WorkingDays = append(s.WorkingDays, time.Weekday(d))
	}
	if err := s.Validate(); err != nil {
		return model.DoctorSchedule{}, err
	}
	return s, nil
}

func parseWindow(start, end string) (model.Window, error) {
	if start == "" && end == "" {
		return model.Window{}, nil
	}
	var w model.Window
	if start != "" {
		c, err := model.ParseClock(start)
		if err != nil {
			return model.Window{}, err
		}
		w.Start = &c
	}
	if end != "" {
		c, err := model.ParseClock(end)
		if err != nil {
			return model.Window{}, err
		}
		w.End = &c
	}
	return w, nil
}

func encodeSchedule(s model.DoctorSchedule) ([]byte, error) {
	return json.Marshal(toRecord(s))
}

func decodeSchedule(raw []byte) (model.DoctorSchedule, error) {
	var rec scheduleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.DoctorSchedule{}, err
	}
	return rec.schedule()
}

func notFound(doctorID string) error {
	return fmt.Errorf("%w: doctor %s", model.ErrNotFound, doctorID)
}
