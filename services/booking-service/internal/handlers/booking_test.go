package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rishith2903/medreserve/libs/httpx"
	"github.com/rishith2903/medreserve/services/booking-service/internal/booking"
	"github.com/rishith2903/medreserve/services/booking-service/internal/directory"
	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
	"github.com/rishith2903/medreserve/services/booking-service/internal/storage"
)

var now = time.Date(2030, 3, 4, 8, 0, 0, 0, time.UTC)

func newMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := directory.NewStatic()
	dir.PutSchedule(model.DoctorSchedule{
		DoctorID:            "doc-1",
		Morning:             model.Window{Start: &model.ClockTime{Hour: 10}, End: &model.ClockTime{Hour: 13}},
		SlotDurationMinutes: 30,
		IsAvailable:         true,
		ConsultationType:    model.ConsultationBoth,
		ConsultationFee:     "400.00",
	})
	dir.AddPatient("pat-1", "pat-2")
	svc := booking.NewService(storage.NewMemory(), dir, logger, booking.WithClock(func() time.Time { return now }))

	mux := http.NewServeMux()
	NewBookingHandler(svc, logger).Register(mux)
	return mux
}

type caller struct {
	id   string
	role string
}

var (
	pat1   = caller{"pat-1", "PATIENT"}
	pat2   = caller{"pat-2", "PATIENT"}
	doc1   = caller{"doc-1", "DOCTOR"}
	nobody = caller{}
)

func do(t *testing.T, mux http.Handler, method, path string, who caller, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if who.id != "" {
		req.Header.Set(HeaderUserID, who.id)
		req.Header.Set(HeaderRole, who.role)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if body := decode[httpx.ErrorBody](t, rec); body.Code != code {
		t.Fatalf("expected code %s, got %+v", code, body)
	}
}

func bookBody(start string) map[string]any {
	return map[string]any{"doctor_id": "doc-1", "start_time": start, "appointment_type": "online"}
}

func TestBookAndConflict(t *testing.T) {
	mux := newMux(t)
	rec := do(t, mux, http.MethodPost, "/api/v1/appointments/book", pat1, bookBody("2030-03-04T10:00:00Z"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	appt := decode[appointmentResponse](t, rec)
	if appt.PatientID != "pat-1" || appt.StatusLabel != "Scheduled" || appt.TypeLabel != "Online Consultation" ||
		appt.EndTime != "2030-03-04T10:30:00Z" || appt.ConsultationFee != "400.00" {
		t.Fatalf("unexpected appointment %+v", appt)
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/book", pat2, bookBody("2030-03-04T10:15:00Z"))
	expectError(t, rec, http.StatusConflict, "SLOT_CONFLICT")

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/book", pat2, bookBody("2030-03-04T10:30:00Z"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("back-to-back booking should succeed, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBookRejections(t *testing.T) {
	mux := newMux(t)
	cases := []struct {
		name   string
		who    caller
		body   any
		status int
		code   string
	}{
		{"past", pat1, bookBody("2030-03-04T07:00:00Z"), http.StatusUnprocessableEntity, "INVALID_TIME"},
		{"outside session", pat1, bookBody("2030-03-04T15:00:00Z"), http.StatusUnprocessableEntity, "INVALID_TIME"},
		{"unknown doctor", pat1, map[string]any{"doctor_id": "doc-x", "start_time": "2030-03-04T10:00:00Z", "appointment_type": "ONLINE"}, http.StatusNotFound, "NOT_FOUND"},
		{"bad timestamp", pat1, bookBody("tomorrow"), http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown field", pat1, map[string]any{"doctor_id": "doc-1", "surprise": true}, http.StatusBadRequest, "INVALID_INPUT"},
		{"for someone else", pat1, map[string]any{"patient_id": "pat-2", "doctor_id": "doc-1", "start_time": "2030-03-04T10:00:00Z", "appointment_type": "ONLINE"}, http.StatusForbidden, "FORBIDDEN"},
		{"anonymous", nobody, bookBody("2030-03-04T10:00:00Z"), http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"system role", caller{"x", "SYSTEM"}, bookBody("2030-03-04T10:00:00Z"), http.StatusUnauthorized, "UNAUTHENTICATED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodPost, "/api/v1/appointments/book", tc.who, tc.body)
			expectError(t, rec, tc.status, tc.code)
		})
	}

	rec := do(t, mux, http.MethodGet, "/api/v1/appointments/book", pat1, nil)
	expectError(t, rec, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

func TestSlotsReflectBookingsAndCancellations(t *testing.T) {
	mux := newMux(t)
	slotsAt10 := func() bool {
		rec := do(t, mux, http.MethodGet, "/api/v1/doctors/slots?doctor_id=doc-1&date=2030-03-04", pat1, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("slots: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[slotsResponse](t, rec)
		if len(resp.Slots) != 6 {
			t.Fatalf("expected 6 slots, got %d", len(resp.Slots))
		}
		if resp.Slots[5].StartTime != "2030-03-04T12:30:00Z" || resp.Slots[0].SessionLabel != "Morning" {
			t.Fatalf("unexpected slots %+v", resp.Slots)
		}
		return resp.Slots[0].Available
	}

	if !slotsAt10() {
		t.Fatal("10:00 should start out available")
	}
	rec := do(t, mux, http.MethodPost, "/api/v1/appointments/book", pat1, bookBody("2030-03-04T10:00:00Z"))
	appt := decode[appointmentResponse](t, rec)
	if slotsAt10() {
		t.Fatal("10:00 should be taken after booking")
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/cancel", pat2, cancelRequest{AppointmentID: appt.AppointmentID})
	expectError(t, rec, http.StatusNotFound, "NOT_FOUND")

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/cancel", pat1, cancelRequest{AppointmentID: appt.AppointmentID, Reason: "travel"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[appointmentResponse](t, rec); got.Status != "CANCELLED" || got.CancelledBy != "PATIENT" || got.CancellationReason != "travel" {
		t.Fatalf("unexpected cancel response %+v", got)
	}
	if !slotsAt10() {
		t.Fatal("10:00 should be available again after cancellation")
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/cancel", pat1, cancelRequest{AppointmentID: appt.AppointmentID})
	expectError(t, rec, http.StatusConflict, "INVALID_TRANSITION")

	rec = do(t, mux, http.MethodGet, "/api/v1/doctors/slots?doctor_id=doc-1&date=03-04-2030", pat1, nil)
	expectError(t, rec, http.StatusBadRequest, "INVALID_INPUT")
}

func TestRescheduleAndConfirm(t *testing.T) {
	mux := newMux(t)
	rec := do(t, mux, http.MethodPost, "/api/v1/appointments/book", pat1, bookBody("2030-03-04T10:00:00Z"))
	original := decode[appointmentResponse](t, rec)

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/reschedule", pat1, rescheduleRequest{AppointmentID: original.AppointmentID, StartTime: "2030-03-04T11:00:00Z"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reschedule: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	moved := decode[appointmentResponse](t, rec)
	if moved.RescheduledFromID != original.AppointmentID || moved.StartTime != "2030-03-04T11:00:00Z" {
		t.Fatalf("unexpected reschedule response %+v", moved)
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/confirm", pat1, appointmentRef{AppointmentID: moved.AppointmentID})
	expectError(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/confirm", doc1, appointmentRef{AppointmentID: moved.AppointmentID})
	if rec.Code != http.StatusOK || decode[appointmentResponse](t, rec).StatusLabel != "Confirmed" {
		t.Fatalf("confirm: got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/start", doc1, appointmentRef{AppointmentID: moved.AppointmentID})
	expectError(t, rec, http.StatusConflict, "INVALID_TRANSITION")

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/complete", doc1, completeRequest{AppointmentID: moved.AppointmentID, FollowUpRequired: true})
	expectError(t, rec, http.StatusBadRequest, "INVALID_INPUT")
}

func TestListAppointments(t *testing.T) {
	mux := newMux(t)
	for _, start := range []string{"2030-03-04T11:00:00Z", "2030-03-04T10:00:00Z"} {
		if rec := do(t, mux, http.MethodPost, "/api/v1/appointments/book", pat1, bookBody(start)); rec.Code != http.StatusCreated {
			t.Fatalf("book %s: %d %s", start, rec.Code, rec.Body.String())
		}
	}

	rec := do(t, mux, http.MethodGet, "/api/v1/appointments?patient_id=pat-1", pat1, nil)
	if rec.Code != http.StatusOK || len(decode[listResponse](t, rec).Appointments) != 2 {
		t.Fatalf("patient listing: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/appointments?patient_id=pat-1", pat2, nil)
	expectError(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = do(t, mux, http.MethodGet, "/api/v1/appointments?doctor_id=doc-1&from=2030-03-04&to=2030-03-05", doc1, nil)
	list := decode[listResponse](t, rec)
	if rec.Code != http.StatusOK || len(list.Appointments) != 2 || list.Appointments[0].StartTime != "2030-03-04T10:00:00Z" {
		t.Fatalf("doctor listing: %d %s", rec.Code, rec.Body.String())
	}

	id := list.Appointments[0].AppointmentID
	rec = do(t, mux, http.MethodGet, fmt.Sprintf("/api/v1/appointments?id=%s", id), pat2, nil)
	expectError(t, rec, http.StatusNotFound, "NOT_FOUND")
	rec = do(t, mux, http.MethodGet, fmt.Sprintf("/api/v1/appointments?id=%s", id), doc1, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get by id: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/appointments", pat1, nil)
	expectError(t, rec, http.StatusBadRequest, "INVALID_INPUT")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: x", model.ErrInvalidTime), http.StatusUnprocessableEntity, "INVALID_TIME"},
		{fmt.Errorf("%w: x", model.ErrDoctorUnavailable), http.StatusUnprocessableEntity, "DOCTOR_UNAVAILABLE"},
		{fmt.Errorf("%w: x", model.ErrSlotConflict), http.StatusConflict, "SLOT_CONFLICT"},
		{fmt.Errorf("%w: x", model.ErrInvalidTransition), http.StatusConflict, "INVALID_TRANSITION"},
		{fmt.Errorf("%w: x", model.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "TIMEOUT"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("classify(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}
