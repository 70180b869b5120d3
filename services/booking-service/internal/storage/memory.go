package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rishith2903/medreserve/services/booking-service/internal/conflict"
	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
	"github.com/rishith2903/medreserve/services/booking-service/internal/outbox"
)

// Memory is an in-process store used by tests and local runs without Postgres.
// It mirrors the Postgres store: a per-doctor lock around each unit of work and an
// overlap check on write standing in for the exclusion constraint.
type Memory struct {
	locks *doctorLocks

	mu      sync.RWMutex
	appts   map[string]model.Appointment
	events  []outbox.Event
	notices map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		locks:   newDoctorLocks(),
		appts:   make(map[string]model.Appointment),
		notices: make(map[string]struct{}),
	}
}

func (m *Memory) InDoctorTx(ctx context.Context, doctorID string, fn TxFunc) error {
	unlock := m.locks.lock(doctorID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: m, staged: make(map[string]model.Appointment), notices: make(map[string]struct{})}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range tx.staged {
		m.appts[id] = a
	}
	for key := range tx.notices {
		m.notices[key] = struct{}{}
	}
	m.events = append(m.events, tx.events...)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	return a, nil
}

func (m *Memory) ListActive(_ context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(a model.Appointment) bool {
		return a.DoctorID == doctorID && a.IsActive() && a.StartTime.Before(to) && a.EndTime.After(from)
	}, 0), nil
}

func (m *Memory) ListByDoctor(_ context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	from, to = window(from, to)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(a model.Appointment) bool {
		return a.DoctorID == doctorID && !a.StartTime.Before(from) && a.StartTime.Before(to)
	}, 0), nil
}

func (m *Memory) ListByPatient(_ context.Context, patientID string, limit int) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(a model.Appointment) bool { return a.PatientID == patientID }, limit), nil
}

func (m *Memory) ListStartingBetween(_ context.Context, statuses []model.Status, from, to time.Time) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(a model.Appointment) bool {
		return hasStatus(statuses, a.Status) && !a.StartTime.Before(from) && a.StartTime.Before(to)
	}, 0), nil
}

func (m *Memory) ListStartedBefore(_ context.Context, statuses []model.Status, before time.Time) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(a model.Appointment) bool {
		return hasStatus(statuses, a.Status) && a.StartTime.Before(before)
	}, 0), nil
}

func (m *Memory) ListDueFollowUps(_ context.Context, now time.Time) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(a model.Appointment) bool {
		return a.Status == model.StatusCompleted && a.FollowUpRequired &&
			a.FollowUpDate != nil && !a.FollowUpDate.After(now)
	}, 0), nil
}

// Events returns a copy of every committed outbox event in emit order.
func (m *Memory) Events() []outbox.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]outbox.Event(nil), m.events...)
}

// filter returns matches ordered by start time. Callers hold m.mu.
func (m *Memory) filter(match func(model.Appointment) bool, limit int) []model.Appointment {
	var out []model.Appointment
	for _, a := range m.appts {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func hasStatus(statuses []model.Status, s model.Status) bool {
	for _, want := range statuses {
		if want == s {
			return true
		}
	}
	return false
}

type memoryTx struct {
	store   *Memory
	staged  map[string]model.Appointment
	events  []outbox.Event
	notices map[string]struct{}
}

// current returns committed rows overlaid with this unit of work's writes.
func (t *memoryTx) current(id string) (model.Appointment, bool) {
	if a, ok := t.staged[id]; ok {
		return a, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	a, ok := t.store.appts[id]
	return a, ok
}

func (t *memoryTx) ListActive(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	committed, _ := t.store.ListActive(ctx, doctorID, from, to)
	out := make([]model.Appointment, 0, len(committed)+len(t.staged))
	for _, a := range committed {
		if _, overridden := t.staged[a.ID]; !overridden {
			out = append(out, a)
		}
	}
	for _, a := range t.staged {
		if a.DoctorID == doctorID && a.IsActive() && a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memoryTx) GetForUpdate(_ context.Context, id string) (model.Appointment, error) {
	a, ok := t.current(id)
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	return a, nil
}

func (t *memoryTx) Insert(ctx context.Context, appt model.Appointment) error {
	if _, exists := t.current(appt.ID); exists {
		return fmt.Errorf("appointment %s already exists", appt.ID)
	}
	if err := t.checkOverlap(ctx, appt); err != nil {
		return err
	}
	t.staged[appt.ID] = appt
	return nil
}

func (t *memoryTx) Update(ctx context.Context, appt model.Appointment) error {
	if _, exists := t.current(appt.ID); !exists {
		return fmt.Errorf("%w: appointment %s", model.ErrNotFound, appt.ID)
	}
	if err := t.checkOverlap(ctx, appt); err != nil {
		return err
	}
	t.staged[appt.ID] = appt
	return nil
}

func (t *memoryTx) Emit(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func (t *memoryTx) RecordNotice(_ context.Context, appointmentID, kind string) (bool, error) {
	key := kind + "/" + appointmentID
	if _, seen := t.notices[key]; seen {
		return false, nil
	}
	t.store.mu.RLock()
	_, seen := t.store.notices[key]
	t.store.mu.RUnlock()
	if seen {
		return false, nil
	}
	t.notices[key] = struct{}{}
	return true, nil
}

func (t *memoryTx) checkOverlap(ctx context.Context, appt model.Appointment) error {
	if !appt.IsActive() {
		return nil
	}
	clash, err := conflict.HasConflict(ctx, t, appt.DoctorID, appt.StartTime, appt.EndTime, appt.ID)
	if err != nil {
		return err
	}
	if clash {
		return fmt.Errorf("%w: doctor %s at %s", model.ErrSlotConflict, appt.DoctorID, appt.StartTime.Format(time.RFC3339))
	}
	return nil
}
