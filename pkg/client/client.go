// Package client is a Go client for the TheraVoice appointment API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("theravoice: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Detail)
}

// Appointment is the confirmation returned when a reminder is scheduled
type Appointment struct {
	Message            string `json:"message"`
	AppointmentTimePT  string `json:"appointment_time_pt"`
	AppointmentTimeUTC string `json:"appointment_time_utc"`
	JobID              string `json:"job_id"`
}

// AppointmentStatus describes a pending or finished reminder
type AppointmentStatus struct {
	JobID             string `json:"job_id"`
	Status            string `json:"status"`
	Email             string `json:"email,omitempty"`
	AppointmentTimePT string `json:"appointment_time_pt"`
	Outcome           string `json:"outcome,omitempty"`
	Error             string `json:"error,omitempty"`
	FinishedAt        string `json:"finished_at,omitempty"`
}

// Health is the service health report
type Health struct {
	Status      string `json:"status"`
	PendingJobs int    `json:"pending_jobs"`
}

// Client provides a simple API for scheduling and managing appointment reminders
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the API at baseURL, e.g. "http://localhost:8000"
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ScheduleAppointment registers a reminder for email at appointmentTime. The time is
// sent with its offset, so naive values are never produced.
func (c *Client) ScheduleAppointment(ctx context.Context, email string, appointmentTime time.Time) (*Appointment, error) {
	body := map[string]string{
		"email":            email,
		"appointment_time": appointmentTime.Format(time.RFC3339Nano),
	}

	var out Appointment
	if err := c.do(ctx, http.MethodPost, "/schedule-appointment", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAppointment returns the state of a reminder by job id
func (c *Client) GetAppointment(ctx context.Context, jobID string) (*AppointmentStatus, error) {
	var out AppointmentStatus
	if err := c.do(ctx, http.MethodGet, "/appointments/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelAppointment removes a pending reminder. It reports false when the reminder
// already fired or the id is unknown.
func (c *Client) CancelAppointment(ctx context.Context, jobID string) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.do(ctx, http.MethodDelete, "/appointments/"+url.PathEscape(jobID), nil, &out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

// Health calls the health endpoint
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &detail) == nil && detail.Detail != "" {
			apiErr.Detail = detail.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
