package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rishith2903/medreserve/libs/httpx"
	"github.com/rishith2903/medreserve/services/booking-service/internal/availability"
	"github.com/rishith2903/medreserve/services/booking-service/internal/booking"
	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
)

// Identity headers set by the gateway after authentication.
const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-Role"
)

// Workflow is the booking surface the handlers drive.
type Workflow interface {
	Book(ctx context.Context, req booking.BookRequest) (model.Appointment, error)
	Cancel(ctx context.Context, req booking.CancelRequest) (model.Appointment, error)
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (model.Appointment, error)
	Confirm(ctx context.Context, id string, actor model.Actor) (model.Appointment, error)
	Start(ctx context.Context, id string, actor model.Actor) (model.Appointment, error)
	Complete(ctx context.Context, req booking.CompleteRequest) (model.Appointment, error)
	Slots(ctx context.Context, doctorID string, date time.Time) ([]availability.Slot, error)
	Get(ctx context.Context, id string, actor model.Actor) (model.Appointment, error)
	ListForDoctor(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error)
	ListForPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error)
}

type BookingHandler struct {
	workflow Workflow
	logger   *slog.Logger
}

func NewBookingHandler(workflow Workflow, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{workflow: workflow, logger: logger}
}

// Register mounts every booking route on mux.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/doctors/slots", h.Slots)
	mux.HandleFunc("/api/v1/appointments", h.List)
	mux.HandleFunc("/api/v1/appointments/book", h.Book)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/appointments/confirm", h.Confirm)
	mux.HandleFunc("/api/v1/appointments/start", h.Start)
	mux.HandleFunc("/api/v1/appointments/complete", h.Complete)
}

type appointmentResponse struct {
	AppointmentID      string `json:"appointment_id"`
	PatientID          string `json:"patient_id"`
	DoctorID           string `json:"doctor_id"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	DurationMinutes    int    `json:"duration_minutes"`
	Status             string `json:"status"`
	StatusLabel        string `json:"status_label"`
	AppointmentType    string `json:"appointment_type"`
	TypeLabel          string `json:"appointment_type_label"`
	ChiefComplaint     string `json:"chief_complaint,omitempty"`
	Symptoms           string `json:"symptoms,omitempty"`
	ConsultationFee    string `json:"consultation_fee,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
	CancelledBy        string `json:"cancelled_by,omitempty"`
	CancelledAt        string `json:"cancelled_at,omitempty"`
	FollowUpRequired   bool   `json:"follow_up_required"`
	FollowUpDate       string `json:"follow_up_date,omitempty"`
	DoctorNotes        string `json:"doctor_notes,omitempty"`
	RescheduledFromID  string `json:"rescheduled_from_id,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

func toResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID:      a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		StartTime:          formatTime(a.StartTime),
		EndTime:            formatTime(a.EndTime),
		DurationMinutes:    a.DurationMinutes,
		Status:             string(a.Status),
		StatusLabel:        statusLabels[a.Status],
		AppointmentType:    string(a.Type),
		TypeLabel:          typeLabels[a.Type],
		ChiefComplaint:     a.ChiefComplaint,
		Symptoms:           a.Symptoms,
		ConsultationFee:    a.ConsultationFee,
		CancellationReason: a.CancellationReason,
		CancelledBy:        string(a.CancelledBy),
		FollowUpRequired:   a.FollowUpRequired,
		DoctorNotes:        a.DoctorNotes,
		RescheduledFromID:  a.RescheduledFromID,
		CreatedAt:          formatTime(a.CreatedAt),
		UpdatedAt:          formatTime(a.UpdatedAt),
	}
	if a.CancelledAt != nil {
		resp.CancelledAt = formatTime(*a.CancelledAt)
	}
	if a.FollowUpDate != nil {
		resp.FollowUpDate = formatTime(*a.FollowUpDate)
	}
	return resp
}

type slotItem struct {
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Session      string `json:"session"`
	SessionLabel string `json:"session_label"`
	Available    bool   `json:"available"`
}

type slotsResponse struct {
	DoctorID string     `json:"doctor_id"`
	Date     string     `json:"date"`
	Slots    []slotItem `json:"slots"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	doctorID := strings.TrimSpace(q.Get("doctor_id"))
	rawDate := strings.TrimSpace(q.Get("date"))
	if doctorID == "" || rawDate == "" {
		badRequest(w, "doctor_id and date are required")
		return
	}
	date, err := time.Parse(time.DateOnly, rawDate)
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.workflow.Slots(r.Context(), doctorID, date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := slotsResponse{DoctorID: doctorID, Date: rawDate, Slots: make([]slotItem, 0, len(slots))}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, slotItem{
			StartTime:    formatTime(s.Start),
			EndTime:      formatTime(s.End),
			Session:      string(s.Session),
			SessionLabel: sessionLabels[s.Session],
			Available:    s.Available,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type bookRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	AppointmentType string `json:"appointment_type"`
	ChiefComplaint  string `json:"chief_complaint"`
	Symptoms        string `json:"symptoms"`
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.postActor(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		badRequest(w, "start_time must be RFC3339")
		return
	}

	// Patients always book for themselves; staff book on behalf of the named patient.
	patientID := strings.TrimSpace(req.PatientID)
	switch actor.Role {
	case model.RolePatient:
		if patientID != "" && patientID != actor.ID {
			httpx.WriteError(w, http.StatusForbidden, "FORBIDDEN", "patients can only book for themselves")
			return
		}
		patientID = actor.ID
	case model.RoleDoctor:
		if strings.TrimSpace(req.DoctorID) != actor.ID {
			httpx.WriteError(w, http.StatusForbidden, "FORBIDDEN", "doctors can only book into their own schedule")
			return
		}
	}

	appt, err := h.workflow.Book(r.Context(), booking.BookRequest{
		PatientID:       patientID,
		DoctorID:        req.DoctorID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Type:            model.AppointmentType(strings.ToUpper(strings.TrimSpace(req.AppointmentType))),
		ChiefComplaint:  req.ChiefComplaint,
		Symptoms:        req.Symptoms,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(appt))
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.postActor(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	appt, err := h.workflow.Cancel(r.Context(), booking.CancelRequest{AppointmentID: req.AppointmentID, Actor: actor, Reason: req.Reason})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

type rescheduleRequest struct {
	AppointmentID   string `json:"appointment_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.postActor(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		badRequest(w, "start_time must be RFC3339")
		return
	}
	appt, err := h.workflow.Reschedule(r.Context(), booking.RescheduleRequest{
		AppointmentID:   req.AppointmentID,
		Actor:           actor,
		NewStart:        start,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

type appointmentRef struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.workflow.Confirm)
}

func (h *BookingHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.workflow.Start)
}

func (h *BookingHandler) simpleTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, model.Actor) (model.Appointment, error)) {
	actor, ok := h.postActor(w, r)
	if !ok {
		return
	}
	var req appointmentRef
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	appt, err := fn(r.Context(), req.AppointmentID, actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

type completeRequest struct {
	AppointmentID    string `json:"appointment_id"`
	FollowUpRequired bool   `json:"follow_up_required"`
	FollowUpDate     string `json:"follow_up_date"`
	Notes            string `json:"notes"`
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.postActor(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	var followUp *time.Time
	if req.FollowUpDate != "" {
		t, err := parseDateOrTime(req.FollowUpDate)
		if err != nil {
			badRequest(w, "follow_up_date must be YYYY-MM-DD or RFC3339")
			return
		}
		followUp = &t
	}
	if req.FollowUpRequired && followUp == nil {
		badRequest(w, "follow_up_date is required when follow_up_required is set")
		return
	}
	appt, err := h.workflow.Complete(r.Context(), booking.CompleteRequest{
		AppointmentID:    req.AppointmentID,
		Actor:            actor,
		FollowUpRequired: req.FollowUpRequired,
		FollowUpDate:     followUp,
		Notes:            req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

type listResponse struct {
	Appointments []appointmentResponse `json:"appointments"`
}

// List serves one appointment by id, a doctor's appointments in a range, or a patient's appointments.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	ctx := r.Context()

	if id := strings.TrimSpace(q.Get("id")); id != "" {
		appt, err := h.workflow.Get(ctx, id, actor)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
		return
	}

	var (
		appts []model.Appointment
		err   error
	)
	switch doctorID, patientID := strings.TrimSpace(q.Get("doctor_id")), strings.TrimSpace(q.Get("patient_id")); {
	case doctorID != "":
		if !mayView(actor, model.RoleDoctor, doctorID) {
			httpx.WriteError(w, http.StatusForbidden, "FORBIDDEN", "not allowed to view this doctor's appointments")
			return
		}
		from, to, perr := parseRange(q.Get("from"), q.Get("to"))
		if perr != nil {
			badRequest(w, perr.Error())
			return
		}
		appts, err = h.workflow.ListForDoctor(ctx, doctorID, from, to)
	case patientID != "":
		if !mayView(actor, model.RolePatient, patientID) {
			httpx.WriteError(w, http.StatusForbidden, "FORBIDDEN", "not allowed to view this patient's appointments")
			return
		}
		limit := 50
		if raw := q.Get("limit"); raw != "" {
			n, perr := strconv.Atoi(raw)
			if perr != nil || n <= 0 || n > 500 {
				badRequest(w, "limit must be in [1,500]")
				return
			}
			limit = n
		}
		appts, err = h.workflow.ListForPatient(ctx, patientID, limit)
	default:
		badRequest(w, "one of id, doctor_id or patient_id is required")
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := listResponse{Appointments: make([]appointmentResponse, 0, len(appts))}
	for _, a := range appts {
		resp.Appointments = append(resp.Appointments, toResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// mayView allows admins everything and otherwise only the owner of the listing.
func mayView(actor model.Actor, ownerRole model.ActorRole, ownerID string) bool {
	if actor.Role == model.RoleAdmin {
		return true
	}
	return actor.Role == ownerRole && actor.ID == ownerID
}

func (h *BookingHandler) postActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return model.Actor{}, false
	}
	return actorFromRequest(w, r)
}

func actorFromRequest(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor := model.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role: model.ActorRole(strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderRole)))),
	}
	// SYSTEM is reserved for in-process callers.
	if actor.ID == "" || !actor.Role.Valid() || actor.Role == model.RoleSystem {
		httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid identity headers")
		return model.Actor{}, false
	}
	return actor, true
}

func (h *BookingHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("booking request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, status, code, "internal error")
		return
	}
	httpx.WriteError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidTime):
		return http.StatusUnprocessableEntity, "INVALID_TIME"
	case errors.Is(err, model.ErrDoctorUnavailable):
		return http.StatusUnprocessableEntity, "DOCTOR_UNAVAILABLE"
	case errors.Is(err, model.ErrSlotConflict):
		return http.StatusConflict, "SLOT_CONFLICT"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "TIMEOUT"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func methodNotAllowed(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

func badRequest(w http.ResponseWriter, msg string) {
	httpx.WriteError(w, http.StatusBadRequest, "INVALID_INPUT", msg)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseDateOrTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func parseRange(rawFrom, rawTo string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if rawFrom = strings.TrimSpace(rawFrom); rawFrom != "" {
		if from, err = parseDateOrTime(rawFrom); err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be YYYY-MM-DD or RFC3339")
		}
	}
	if rawTo = strings.TrimSpace(rawTo); rawTo != "" {
		if to, err = parseDateOrTime(rawTo); err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be YYYY-MM-DD or RFC3339")
		}
	}
	return from, to, nil
}
