package model

import "time"

type Status string

const (
	StatusScheduled   Status = "SCHEDULED"
	StatusConfirmed   Status = "CONFIRMED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusNoShow      Status = "NO_SHOW"
	StatusRescheduled Status = "RESCHEDULED"
)

// ActiveStatuses are the statuses that occupy a doctor's timeline.
var ActiveStatuses = []Status{StatusScheduled, StatusConfirmed, StatusInProgress}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted,
		StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusConfirmed || s == StatusInProgress
}

func (s Status) CanBeCancelled() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func (s Status) CanBeRescheduled() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow || s == StatusRescheduled
}

type AppointmentType string

const (
	AppointmentOnline   AppointmentType = "ONLINE"
	AppointmentInPerson AppointmentType = "IN_PERSON"
)

func (t AppointmentType) Valid() bool {
	return t == AppointmentOnline || t == AppointmentInPerson
}

type ActorRole string

const (
	RolePatient ActorRole = "PATIENT"
	RoleDoctor  ActorRole = "DOCTOR"
	RoleAdmin   ActorRole = "ADMIN"
	RoleSystem  ActorRole = "SYSTEM"
)

func (r ActorRole) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the caller identity supplied by the gateway. It is trusted as-is.
type Actor struct {
	ID   string
	Role ActorRole
}

type Appointment struct {
	ID              string
	PatientID       string
	DoctorID        string
	StartTime       time.Time
	DurationMinutes int
	EndTime         time.Time
	Status          Status
	Type            AppointmentType
	ChiefComplaint  string
	Symptoms        string
	// ConsultationFee is the doctor's fee at booking time; it never changes afterwards.
	ConsultationFee    string
	CancellationReason string
	CancelledBy        ActorRole
	CancelledAt        *time.Time
	FollowUpRequired   bool
	FollowUpDate       *time.Time
	DoctorNotes        string
	RescheduledFromID  string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SetTime sets start and duration and recomputes EndTime.
func (a *Appointment) SetTime(start time.Time, durationMinutes int) {
	a.StartTime = start
	a.DurationMinutes = durationMinutes
	a.EndTime = start.Add(time.Duration(durationMinutes) * time.Minute)
}

func (a Appointment) IsActive() bool { return a.Status.IsActive() }

func (a Appointment) CanBeCancelled() bool { return a.Status.CanBeCancelled() }

func (a Appointment) CanBeRescheduled() bool { return a.Status.CanBeRescheduled() }

// InvolvesActor reports whether actor may act on this appointment. Admins and the system act on any.
func (a Appointment) InvolvesActor(actor Actor) bool {
	switch actor.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RolePatient:
		return actor.ID == a.PatientID
	case RoleDoctor:
		return actor.ID == a.DoctorID
	}
	return false
}
