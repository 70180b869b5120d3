package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// RaceResult tallies a concurrent booking drill against a single slot.
type RaceResult struct {
	Booked    []Appointment
	Conflicts int
	Failures  []error
}

// runRace books the same slot from n distinct patients at once. A healthy
// service lets exactly one through and answers every other with SLOT_CONFLICT.
func runRace(ctx context.Context, c *Client, in BookInput, patientPrefix string, n int) RaceResult {
	var (
		mu  sync.Mutex
		res RaceResult
		wg  sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(patientID string) {
			defer wg.Done()
			<-start
			attempt := in
			attempt.PatientID = patientID
			appt, err := c.As(patientID, "PATIENT").Book(ctx, attempt)

			mu.Lock()
			defer mu.Unlock()
			var apiErr *APIError
			switch {
			case err == nil:
				res.Booked = append(res.Booked, appt)
			case errors.As(err, &apiErr) && apiErr.Code == "SLOT_CONFLICT":
				res.Conflicts++
			default:
				res.Failures = append(res.Failures, fmt.Errorf("%s: %w", patientID, err))
			}
		}(fmt.Sprintf("%s%d", patientPrefix, i))
	}
	close(start)
	wg.Wait()
	return res
}

// Healthy reports whether the drill saw exactly one winner and no unexpected errors.
func (r RaceResult) Healthy() bool {
	return len(r.Booked) == 1 && len(r.Failures) == 0
}
