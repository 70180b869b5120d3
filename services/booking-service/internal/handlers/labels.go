package handlers

import "github.com/rishith2903/medreserve/services/booking-service/internal/model"

// Human-readable labels for API responses. The domain types carry only their codes.
var statusLabels = map[model.Status]string{
	model.StatusScheduled:   "Scheduled",
	model.StatusConfirmed:   "Confirmed",
	model.StatusInProgress:  "In Progress",
	model.StatusCompleted:   "Completed",
	model.StatusCancelled:   "Cancelled",
	model.StatusNoShow:      "No Show",
	model.StatusRescheduled: "Rescheduled",
}

var typeLabels = map[model.AppointmentType]string{
	model.AppointmentOnline:   "Online Consultation",
	model.AppointmentInPerson: "In-Person Consultation",
}

var sessionLabels = map[model.Session]string{
	model.SessionMorning: "Morning",
	model.SessionEvening: "Evening",
}
