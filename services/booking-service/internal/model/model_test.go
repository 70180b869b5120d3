package model

import (
	"testing"
	"time"
)

func clock(t *testing.T, raw string) *ClockTime {
	t.Helper()
	c, err := ParseClock(raw)
	if err != nil {
		t.Fatalf("ParseClock(%q): %v", raw, err)
	}
	return &c
}

func TestStatusPredicates(t *testing.T) {
	cases := []struct {
		status              Status
		active, cancellable bool
		terminal            bool
	}{
		{StatusScheduled, true, true, false},
		{StatusConfirmed, true, true, false},
		{StatusInProgress, true, false, false},
		{StatusCompleted, false, false, true},
		{StatusCancelled, false, false, true},
		{StatusNoShow, false, false, true},
		{StatusRescheduled, false, false, true},
	}
	for _, tc := range cases {
		if tc.status.IsActive() != tc.active {
			t.Fatalf("%s: IsActive = %v", tc.status, tc.status.IsActive())
		}
		if tc.status.CanBeCancelled() != tc.cancellable || tc.status.CanBeRescheduled() != tc.cancellable {
			t.Fatalf("%s: cancellable/reschedulable mismatch", tc.status)
		}
		if tc.status.IsTerminal() != tc.terminal {
			t.Fatalf("%s: IsTerminal = %v", tc.status, tc.status.IsTerminal())
		}
	}
	if Status("PENDING").Valid() {
		t.Fatal("unknown status should be invalid")
	}
}

func TestSetTimeRecomputesEnd(t *testing.T) {
	var a Appointment
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	a.SetTime(start, 45)
	if !a.EndTime.Equal(start.Add(45 * time.Minute)) {
		t.Fatalf("unexpected end %s", a.EndTime)
	}
	a.SetTime(start.Add(time.Hour), 30)
	if !a.EndTime.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("end not recomputed: %s", a.EndTime)
	}
}

func TestConsultationSupports(t *testing.T) {
	if !ConsultationBoth.Supports(AppointmentOnline) || !ConsultationBoth.Supports(AppointmentInPerson) {
		t.Fatal("BOTH should accept either type")
	}
	if ConsultationOnlineOnly.Supports(AppointmentInPerson) {
		t.Fatal("ONLINE_ONLY must reject in-person")
	}
	if ConsultationInPersonOnly.Supports(AppointmentOnline) {
		t.Fatal("IN_PERSON_ONLY must reject online")
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30:00")
	if err != nil || c.Hour != 9 || c.Minute != 30 {
		t.Fatalf("unexpected %v (%v)", c, err)
	}
	for _, bad := range []string{"", "9", "24:00", "10:60", "aa:bb"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestScheduleValidate(t *testing.T) {
	base := DoctorSchedule{
		DoctorID:            "doc-1",
		Morning:             Window{Start: clock(t, "10:00"), End: clock(t, "13:00")},
		SlotDurationMinutes: 30,
		IsAvailable:         true,
		ConsultationType:    ConsultationBoth,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	inverted := base
	inverted.Evening = Window{Start: clock(t, "18:00"), End: clock(t, "17:00")}
	if err := inverted.Validate(); err == nil {
		t.Fatal("expected inverted window to fail")
	}

	overlapping := base
	overlapping.Morning = Window{Start: clock(t, "10:00"), End: clock(t, "14:00")}
	overlapping.Evening = Window{Start: clock(t, "13:00"), End: clock(t, "15:00")}
	if err := overlapping.Validate(); err == nil {
		t.Fatal("expected overlapping sessions to fail")
	}

	reversed := base
	reversed.Evening = Window{Start: clock(t, "07:00"), End: clock(t, "09:00")}
	if err := reversed.Validate(); err == nil {
		t.Fatal("expected evening before morning to fail")
	}

	touching := base
	touching.Evening = Window{Start: clock(t, "13:00"), End: clock(t, "15:00")}
	if err := touching.Validate(); err != nil {
		t.Fatalf("back-to-back sessions rejected: %v", err)
	}

	halfOpen := base
	halfOpen.Evening = Window{Start: clock(t, "18:00")}
	if err := halfOpen.Validate(); err == nil {
		t.Fatal("expected half-configured window to fail")
	}

	shortSlot := base
	shortSlot.SlotDurationMinutes = 5
	if err := shortSlot.Validate(); err == nil {
		t.Fatal("expected slot duration bound to fail")
	}

	badZone := base
	badZone.Timezone = "Mars/Olympus"
	if err := badZone.Validate(); err == nil {
		t.Fatal("expected bad timezone to fail")
	}
}

func TestInvolvesActor(t *testing.T) {
	a := Appointment{PatientID: "pat-1", DoctorID: "doc-1"}
	if !a.InvolvesActor(Actor{ID: "pat-1", Role: RolePatient}) {
		t.Fatal("own patient should be involved")
	}
	if a.InvolvesActor(Actor{ID: "pat-2", Role: RolePatient}) {
		t.Fatal("other patient must not be involved")
	}
	if a.InvolvesActor(Actor{ID: "pat-1", Role: RoleDoctor}) {
		t.Fatal("role must match the id it claims")
	}
	if !a.InvolvesActor(Actor{ID: "anyone", Role: RoleAdmin}) {
		t.Fatal("admin acts on any appointment")
	}
}
