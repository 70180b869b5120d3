package directory

import (
	"context"
	"sync"

	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
)

// Static is an in-memory Provider for tests and local runs.
type Static struct {
	mu        sync.RWMutex
	schedules map[string]model.DoctorSchedule
	patients  map[string]struct{}
}

func NewStatic() *Static {
	return &Static{
		schedules: make(map[string]model.DoctorSchedule),
		patients:  make(map[string]struct{}),
	}
}

func (s *Static) PutSchedule(schedule model.DoctorSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[schedule.DoctorID] = schedule
}

func (s *Static) AddPatient(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.patients[id] = struct{}{}
	}
}

func (s *Static) Schedule(_ context.Context, doctorID string) (model.DoctorSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.schedules[doctorID]
	if !ok {
		return model.DoctorSchedule{}, notFound(doctorID)
	}
	return schedule, nil
}

func (s *Static) PatientExists(_ context.Context, patientID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.patients[patientID]
	return ok, nil
}
