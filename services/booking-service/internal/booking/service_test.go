package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rishith2903/medreserve/services/booking-service/internal/availability"
	"github.com/rishith2903/medreserve/services/booking-service/internal/conflict"
	"github.com/rishith2903/medreserve/services/booking-service/internal/directory"
	"github.com/rishith2903/medreserve/services/booking-service/internal/lifecycle"
	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
	"github.com/rishith2903/medreserve/services/booking-service/internal/storage"
)

// Monday 2030-03-04, two hours before the morning session opens.
var now = time.Date(2030, 3, 4, 8, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return time.Date(2030, 3, 4, h, m, 0, 0, time.UTC) }

func clock(h, m int) *model.ClockTime { return &model.ClockTime{Hour: h, Minute: m} }

var (
	patient = model.Actor{ID: "pat-1", Role: model.RolePatient}
	doctor  = model.Actor{ID: "doc-1", Role: model.RoleDoctor}
	admin   = model.Actor{ID: "admin-1", Role: model.RoleAdmin}
	system  = model.Actor{ID: "sweep", Role: model.RoleSystem}
)

type fixture struct {
	svc   *Service
	store *storage.Memory
	dir   *directory.Static
	clock *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewStatic()
	dir.PutSchedule(model.DoctorSchedule{
		DoctorID:            "doc-1",
		Morning:             model.Window{Start: clock(10, 0), End: clock(13, 0)},
		Evening:             model.Window{Start: clock(17, 0), End: clock(19, 0)},
		SlotDurationMinutes: 30,
		IsAvailable:         true,
		ConsultationType:    model.ConsultationBoth,
		ConsultationFee:     "500.00",
	})
	dir.PutSchedule(model.DoctorSchedule{
		DoctorID:            "doc-online",
		Morning:             model.Window{Start: clock(10, 0), End: clock(12, 0)},
		SlotDurationMinutes: 30,
		IsAvailable:         true,
		ConsultationType:    model.ConsultationOnlineOnly,
	})
	dir.PutSchedule(model.DoctorSchedule{
		DoctorID:            "doc-away",
		Morning:             model.Window{Start: clock(10, 0), End: clock(12, 0)},
		SlotDurationMinutes: 30,
		IsAvailable:         false,
		ConsultationType:    model.ConsultationBoth,
	})
	for i := 1; i <= 32; i++ {
		dir.AddPatient(fmt.Sprintf("pat-%d", i))
	}

	store := storage.NewMemory()
	fc := &fakeClock{t: now}
	svc := NewService(store, dir, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(fc.Now))
	return &fixture{svc: svc, store: store, dir: dir, clock: fc}
}

func (f *fixture) book(t *testing.T, patientID string, start time.Time, mins int) (model.Appointment, error) {
	t.Helper()
	return f.svc.Book(context.Background(), BookRequest{
		PatientID:       patientID,
		DoctorID:        "doc-1",
		Start:           start,
		DurationMinutes: mins,
		Type:            model.AppointmentInPerson,
	})
}

func TestBookSnapshotsFeeAndDefaultsDuration(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(t, "pat-1", at(10, 0), 0)
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if appt.Status != model.StatusScheduled || appt.DurationMinutes != 30 || !appt.EndTime.Equal(at(10, 30)) {
		t.Fatalf("unexpected appointment %+v", appt)
	}
	if appt.ConsultationFee != "500.00" {
		t.Fatalf("expected fee snapshot, got %q", appt.ConsultationFee)
	}

	// Later fee changes do not touch existing appointments.
	schedule, _ := f.dir.Schedule(context.Background(), "doc-1")
	schedule.ConsultationFee = "900.00"
	f.dir.PutSchedule(schedule)
	stored, err := f.store.Get(context.Background(), appt.ID)
	if err != nil || stored.ConsultationFee != "500.00" {
		t.Fatalf("stored fee changed: %+v (%v)", stored, err)
	}

	events := f.store.Events()
	if len(events) != 1 || events[0].EventType != lifecycle.EventBooked || events[0].AggregateID != appt.ID {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		req  BookRequest
		want error
	}{
		{"past", BookRequest{PatientID: "pat-1", DoctorID: "doc-1", Start: at(7, 0), Type: model.AppointmentOnline}, model.ErrInvalidTime},
		{"now", BookRequest{PatientID: "pat-1", DoctorID: "doc-1", Start: now, Type: model.AppointmentOnline}, model.ErrInvalidTime},
		{"before session", BookRequest{PatientID: "pat-1", DoctorID: "doc-1", Start: at(9, 45), Type: model.AppointmentOnline}, model.ErrInvalidTime},
		{"between sessions", BookRequest{PatientID: "pat-1", DoctorID: "doc-1", Start: at(14, 0), Type: model.AppointmentOnline}, model.ErrInvalidTime},
		{"runs past window", BookRequest{PatientID: "pat-1", DoctorID: "doc-1", Start: at(12, 30), DurationMinutes: 60, Type: model.AppointmentOnline}, model.ErrInvalidTime},
		{"unknown doctor", BookRequest{PatientID: "pat-1", DoctorID: "doc-x", Start: at(10, 0), Type: model.AppointmentOnline}, model.ErrNotFound},
		{"unknown patient", BookRequest{PatientID: "pat-999", DoctorID: "doc-1", Start: at(10, 0), Type: model.AppointmentOnline}, model.ErrNotFound},
		{"doctor away", BookRequest{PatientID: "pat-1", DoctorID: "doc-away", Start: at(10, 0), Type: model.AppointmentOnline}, model.ErrDoctorUnavailable},
		{"type unsupported", BookRequest{PatientID: "pat-1", DoctorID: "doc-online", Start: at(10, 0), Type: model.AppointmentInPerson}, model.ErrDoctorUnavailable},
		{"bad type", BookRequest{PatientID: "pat-1", DoctorID: "doc-1", Start: at(10, 0), Type: "PHONE"}, model.ErrInvalidInput},
		{"missing doctor id", BookRequest{PatientID: "pat-1", Start: at(10, 0), Type: model.AppointmentOnline}, model.ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := f.svc.Book(context.Background(), tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if got := len(f.store.Events()); got != 0 {
		t.Fatalf("rejected bookings must not emit events, got %d", got)
	}
}

func TestBookConflictAndBackToBack(t *testing.T) {
	f := newFixture(t)
	if _, err := f.book(t, "pat-1", at(10, 0), 30); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}
	if _, err := f.book(t, "pat-2", at(10, 15), 30); !errors.Is(err, model.ErrSlotConflict) {
		t.Fatalf("expected slot conflict for 10:15, got %v", err)
	}
	if _, err := f.book(t, "pat-3", at(10, 30), 30); err != nil {
		t.Fatalf("back-to-back booking failed: %v", err)
	}

	if _, err := f.book(t, "pat-4", at(17, 0), 60); err != nil {
		t.Fatalf("hour-long booking failed: %v", err)
	}
	if _, err := f.book(t, "pat-5", at(17, 30), 30); !errors.Is(err, model.ErrSlotConflict) {
		t.Fatalf("expected conflict inside the hour-long visit, got %v", err)
	}
	if _, err := f.book(t, "pat-6", at(18, 0), 30); err != nil {
		t.Fatalf("booking right after the hour-long visit failed: %v", err)
	}
}

func TestConcurrentBookingsForSameSlot(t *testing.T) {
	f := newFixture(t)
	const n = 24

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.book(t, fmt.Sprintf("pat-%d", i), at(11, 0), 30)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrSlotConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if successes != 1 || conflicts != n-1 || len(others) != 0 {
		t.Fatalf("expected 1 success and %d conflicts, got %d/%d (others %v)", n-1, successes, conflicts, others)
	}
	active, _ := f.store.ListActive(context.Background(), "doc-1", at(0, 0), at(23, 59))
	if len(active) != 1 {
		t.Fatalf("expected exactly one active appointment, got %d", len(active))
	}
}

func TestCancelFreesSlotAndIsNotIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.book(t, "pat-1", at(10, 0), 30)
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}

	slots, _ := f.svc.Slots(ctx, "doc-1", at(0, 0))
	if slotAvailable(slots, at(10, 0)) {
		t.Fatal("booked slot reported available")
	}

	cancelled, err := f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, Actor: patient, Reason: "  feeling better "})
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.CancelledBy != model.RolePatient ||
		cancelled.CancellationReason != "feeling better" || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled appointment %+v", cancelled)
	}

	slots, _ = f.svc.Slots(ctx, "doc-1", at(0, 0))
	if !slotAvailable(slots, at(10, 0)) {
		t.Fatal("cancelled slot must be available again")
	}

	if _, err := f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, Actor: patient}); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on second cancel, got %v", err)
	}
	if _, err := f.book(t, "pat-2", at(10, 0), 30); err != nil {
		t.Fatalf("rebooking a cancelled slot failed: %v", err)
	}
}

func TestCancelByStrangerLooksLikeNotFound(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(t, "pat-1", at(10, 0), 30)
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	stranger := model.Actor{ID: "pat-2", Role: model.RolePatient}
	if _, err := f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, Actor: stranger}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), appt.ID, stranger); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found on get, got %v", err)
	}
	if _, err := f.svc.Confirm(context.Background(), appt.ID, patient); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("patients cannot confirm, got %v", err)
	}
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original, err := f.book(t, "pat-1", at(10, 0), 30)
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if _, err := f.book(t, "pat-2", at(11, 0), 30); err != nil {
		t.Fatalf("Book failed: %v", err)
	}

	if _, err := f.svc.Reschedule(ctx, RescheduleRequest{AppointmentID: original.ID, Actor: patient, NewStart: at(11, 0)}); !errors.Is(err, model.ErrSlotConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := f.svc.Reschedule(ctx, RescheduleRequest{AppointmentID: original.ID, Actor: patient, NewStart: at(13, 0)}); !errors.Is(err, model.ErrInvalidTime) {
		t.Fatalf("expected invalid time, got %v", err)
	}

	// 10:15 overlaps only the appointment being moved.
	schedule, _ := f.dir.Schedule(ctx, "doc-1")
	schedule.ConsultationFee = "750.00"
	f.dir.PutSchedule(schedule)
	moved, err := f.svc.Reschedule(ctx, RescheduleRequest{AppointmentID: original.ID, Actor: patient, NewStart: at(10, 15)})
	if err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if moved.ID == original.ID || moved.RescheduledFromID != original.ID || moved.Status != model.StatusScheduled {
		t.Fatalf("unexpected replacement %+v", moved)
	}
	if moved.ConsultationFee != "500.00" || !moved.EndTime.Equal(at(10, 45)) {
		t.Fatalf("replacement must keep the original fee and duration: %+v", moved)
	}

	old, _ := f.store.Get(ctx, original.ID)
	if old.Status != model.StatusRescheduled {
		t.Fatalf("expected old record RESCHEDULED, got %s", old.Status)
	}
	slots, _ := f.svc.Slots(ctx, "doc-1", at(0, 0))
	if slotAvailable(slots, at(10, 30)) || !slotAvailable(slots, at(12, 0)) {
		t.Fatal("slots do not reflect the reschedule")
	}

	if _, err := f.svc.Reschedule(ctx, RescheduleRequest{AppointmentID: original.ID, Actor: patient, NewStart: at(12, 0)}); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("retired record cannot be rescheduled again, got %v", err)
	}

	events := f.store.Events()
	if len(events) < 2 {
		t.Fatalf("expected reschedule events, got %d", len(events))
	}
	retired, replacement := events[len(events)-2], events[len(events)-1]
	var payload map[string]any
	_ = json.Unmarshal(retired.Payload, &payload)
	if retired.EventType != lifecycle.EventRescheduled || retired.AggregateID != original.ID || payload["rescheduled_to_id"] != moved.ID {
		t.Fatalf("unexpected reschedule event %s %s", retired.EventType, retired.Payload)
	}
	payload = nil
	_ = json.Unmarshal(replacement.Payload, &payload)
	if replacement.EventType != lifecycle.EventBooked || replacement.AggregateID != moved.ID ||
		payload["rescheduled_from_id"] != original.ID || payload["status"] != string(model.StatusScheduled) {
		t.Fatalf("unexpected replacement event %s %s", replacement.EventType, replacement.Payload)
	}
}

func TestConsultationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.book(t, "pat-1", at(10, 0), 30)
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, appt.ID, doctor); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if _, err := f.svc.Start(ctx, appt.ID, doctor); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("start before the slot must fail, got %v", err)
	}

	f.clock.Set(at(10, 2))
	if _, err := f.svc.Start(ctx, appt.ID, doctor); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := f.svc.Complete(ctx, CompleteRequest{AppointmentID: appt.ID, Actor: doctor, FollowUpRequired: true}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("follow-up without a date must be rejected, got %v", err)
	}
	if still, _ := f.store.Get(ctx, appt.ID); still.Status != model.StatusInProgress {
		t.Fatalf("rejected completion changed status to %s", still.Status)
	}
	followUp := at(10, 0).AddDate(0, 0, 14)
	done, err := f.svc.Complete(ctx, CompleteRequest{AppointmentID: appt.ID, Actor: doctor, FollowUpRequired: true, FollowUpDate: &followUp, Notes: "review bloods"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != model.StatusCompleted || done.FollowUpDate == nil || done.DoctorNotes != "review bloods" {
		t.Fatalf("unexpected completed appointment %+v", done)
	}

	for _, op := range []func() error{
		func() error { _, err := f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, Actor: admin}); return err },
		func() error { _, err := f.svc.MarkNoShow(ctx, appt.ID, system); return err },
		func() error { _, err := f.svc.Confirm(ctx, appt.ID, admin); return err },
	} {
		if err := op(); !errors.Is(err, model.ErrInvalidTransition) {
			t.Fatalf("terminal appointment accepted a transition: %v", err)
		}
	}

	var types []string
	for _, e := range f.store.Events() {
		types = append(types, e.EventType)
	}
	want := []string{lifecycle.EventBooked, lifecycle.EventConfirmed, lifecycle.EventStarted, lifecycle.EventCompleted}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("unexpected event sequence %v", types)
	}
}

func TestMarkNoShowRequiresOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.book(t, "pat-1", at(10, 0), 30)
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if _, err := f.svc.MarkNoShow(ctx, appt.ID, system); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected not overdue, got %v", err)
	}
	f.clock.Set(at(10, 45))
	got, err := f.svc.MarkNoShow(ctx, appt.ID, system)
	if err != nil || got.Status != model.StatusNoShow {
		t.Fatalf("expected NO_SHOW, got %+v (%v)", got, err)
	}
}

func TestSlotsAgreeWithConflictDetector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, start := range []time.Time{at(10, 0), at(11, 30), at(17, 30)} {
		if _, err := f.book(t, "pat-1", start, 30); err != nil {
			t.Fatalf("Book %s failed: %v", start, err)
		}
	}
	if _, err := f.book(t, "pat-2", at(12, 0), 60); err != nil {
		t.Fatalf("long Book failed: %v", err)
	}

	slots, err := f.svc.Slots(ctx, "doc-1", at(0, 0))
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if len(slots) != 10 {
		t.Fatalf("expected 6 morning + 4 evening slots, got %d", len(slots))
	}
	for _, s := range slots {
		clash, err := conflict.HasConflict(ctx, f.store, "doc-1", s.Start, s.End, "")
		if err != nil {
			t.Fatalf("HasConflict failed: %v", err)
		}
		if s.Available == clash {
			t.Fatalf("slot %s available=%v but conflict=%v", s.Start.Format("15:04"), s.Available, clash)
		}
	}
}

func TestSlotsForUnknownDoctor(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Slots(context.Background(), "doc-x", at(0, 0)); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	slots, err := f.svc.Slots(context.Background(), "doc-1", at(0, 0).AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	for _, s := range slots {
		if s.Available {
			t.Fatalf("past day slot %s reported available", s.Start)
		}
	}
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, start := range []time.Time{at(11, 0), at(10, 0)} {
		if _, err := f.book(t, fmt.Sprintf("pat-%d", i+1), start, 30); err != nil {
			t.Fatalf("Book failed: %v", err)
		}
	}
	byDoctor, err := f.svc.ListForDoctor(ctx, "doc-1", at(0, 0), at(23, 0))
	if err != nil || len(byDoctor) != 2 || !byDoctor[0].StartTime.Equal(at(10, 0)) {
		t.Fatalf("unexpected doctor listing %+v (%v)", byDoctor, err)
	}
	if _, err := f.svc.ListForDoctor(ctx, "doc-1", at(12, 0), at(11, 0)); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected invalid range, got %v", err)
	}
	byPatient, err := f.svc.ListForPatient(ctx, "pat-2", 10)
	if err != nil || len(byPatient) != 1 {
		t.Fatalf("unexpected patient listing %+v (%v)", byPatient, err)
	}
}

func slotAvailable(slots []availability.Slot, start time.Time) bool {
	for _, s := range slots {
		if s.Start.Equal(start) {
			return s.Available
		}
	}
	return false
}
