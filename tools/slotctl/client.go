package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Client talks to the booking-service HTTP API under a single identity.
type Client struct {
	baseURL string
	userID  string
	role    string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		userID:  cfg.UserID,
		role:    cfg.Role,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// As returns a copy of c acting under another identity.
func (c *Client) As(userID, role string) *Client {
	cp := *c
	cp.userID = userID
	cp.role = role
	return &cp
}

type Slot struct {
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	SessionLabel string `json:"session_label"`
	Available    bool   `json:"available"`
}

type Appointment struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	DoctorID      string `json:"doctor_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	StatusLabel   string `json:"status_label"`
}

type BookInput struct {
	PatientID       string `json:"patient_id,omitempty"`
	DoctorID        string `json:"doctor_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	AppointmentType string `json:"appointment_type"`
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) Slots(ctx context.Context, doctorID, date string) ([]Slot, error) {
	q := url.Values{"doctor_id": {doctorID}, "date": {date}}
	var resp struct {
		Slots []Slot `json:"slots"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/doctors/slots?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Slots, nil
}

func (c *Client) Book(ctx context.Context, in BookInput) (Appointment, error) {
	var appt Appointment
	err := c.do(ctx, http.MethodPost, "/api/v1/appointments/book", in, &appt)
	return appt, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", c.userID)
	req.Header.Set("X-Role", c.role)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
