// Package ui implements eyesoffctl, a terminal status viewer that talks to a
// running daemon over its HTTP API.
package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/eyesoff/internal/app"
)

// Stats mirrors GET /api/stats.
type Stats struct {
	TotalDetections   uint64         `json:"total_detections"`
	AlertCount        uint64         `json:"alert_count"`
	LastDetectionTime time.Time      `json:"last_detection_time"`
	FaceCounts        map[int]uint64 `json:"face_counts"`
	SessionSeconds    float64        `json:"session_seconds"`
	Summary           string         `json:"summary"`
}

// Event mirrors an entry of GET /api/events.
type Event struct {
	Kind       string    `json:"kind"`
	Trigger    string    `json:"trigger"`
	FaceCount  int       `json:"face_count"`
	Threshold  int       `json:"threshold"`
	Mode       string    `json:"mode"`
	Manual     bool      `json:"manual"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Client calls the daemon API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a Client for the daemon at addr ("host:port" or a URL).
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: 5 * time.Second}}
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (app.Status, error) {
	var st app.Status
	err := c.do(ctx, http.MethodGet, "/api/status", &st)
	return st, err
}

// Stats fetches GET /api/stats.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.do(ctx, http.MethodGet, "/api/stats", &s)
	return s, err
}

// Events fetches the most recent alert events. A daemon without event
// storage yields none.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/events?limit=%d", limit), &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	return resp.Events, err
}

// Control posts a control action such as "monitoring/pause" or
// "alert/dismiss" and returns the resulting status.
func (c *Client) Control(ctx context.Context, action string) (app.Status, error) {
	var st app.Status
	err := c.do(ctx, http.MethodPost, "/api/"+action, &st)
	return st, err
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
