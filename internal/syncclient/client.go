package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/salonsync/salonsync/internal/syncerr"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Client is an HTTP client for the salonsync server.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *resty.Client
}

// New creates a new sync client.
func New(baseURL, apiKey, deviceID string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	h := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(DefaultTimeout)
	if apiKey != "" {
		h.SetAuthToken(apiKey)
	}
	if deviceID != "" {
		h.SetHeader("X-Device-ID", deviceID)
	}
	return &Client{BaseURL: baseURL, APIKey: apiKey, DeviceID: deviceID, HTTP: h}
}

// SetTimeout changes the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.HTTP.SetTimeout(d)
	return c
}

// --- Wire types (mirrors internal/api, independently defined) ---

// ActionInput is one queued action in a push request.
type ActionInput struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PushRequest is the body for POST /v1/businesses/{id}/sync/push.
type PushRequest struct {
	Actions []ActionInput `json:"actions"`
}

// ActionRejection names an action that was not applied and why.
type ActionRejection struct {
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

// PushResponse is the response from a push request.
type PushResponse struct {
	OK        bool              `json:"ok"`
	Applied   int               `json:"applied"`
	Conflicts []ActionRejection `json:"conflicts,omitempty"`
	Failed    []ActionRejection `json:"failed,omitempty"`
}

// PullRequest is the body for POST /v1/businesses/{id}/sync/pull.
type PullRequest struct {
	Days int `json:"days,omitempty"`
}

// Appointment is one denormalized appointment in a pull response.
type Appointment struct {
	ID            string    `json:"id"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone,omitempty"`
	EmployeeID    string    `json:"employee_id,omitempty"`
	EmployeeName  string    `json:"employee_name,omitempty"`
	ServiceID     string    `json:"service_id,omitempty"`
	ServiceName   string    `json:"service_name,omitempty"`
	Status        string    `json:"status"`
	UpdatedAt     time.Time `json:"updated_at"`
	Synced        bool      `json:"synced"`
}

// PullResponse is the response from a pull request.
type PullResponse struct {
	OK           bool          `json:"ok"`
	Days         int           `json:"days"`
	From         time.Time     `json:"from"`
	To           time.Time     `json:"to"`
	Appointments []Appointment `json:"appointments"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// Membership is one business the caller belongs to.
type Membership struct {
	BusinessID   string `json:"business_id"`
	BusinessName string `json:"business_name"`
	Role         string `json:"role"`
}

// MeResponse is the response from GET /v1/me.
type MeResponse struct {
	UserID      string       `json:"user_id"`
	Email       string       `json:"email"`
	Memberships []Membership `json:"memberships"`
}

// --- Methods ---

// HealthCheck probes the server. Used for connectivity detection.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the caller's identity and business memberships.
func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var resp MeResponse
	if err := c.do(ctx, http.MethodGet, "/v1/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Push sends a batch of queued actions.
func (c *Client) Push(ctx context.Context, businessID string, req *PushRequest) (*PushResponse, error) {
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/businesses/%s/sync/push", businessID), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches the appointment window. days <= 0 lets the server default it.
func (c *Client) Pull(ctx context.Context, businessID string, days int) (*PullResponse, error) {
	var resp PullResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/businesses/%s/sync/pull", businessID), &PullRequest{Days: days}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorBody struct {
	Error apiError `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	op := strings.ToLower(method) + " " + path
	req := c.HTTP.R().
		SetContext(ctx).
		SetError(&apiErrorBody{})
	if result != nil {
		req.SetResult(result)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return syncerr.New(syncerr.Transient, op, fmt.Errorf("http request: %w", err))
	}
	if !resp.IsError() {
		return nil
	}

	msg := strings.TrimSpace(resp.String())
	if e, ok := resp.Error().(*apiErrorBody); ok && e.Error.Code != "" {
		msg = e.Error.Message
	}
	return classify(op, resp.StatusCode(), msg)
}

// classify maps an HTTP status to an error kind.
func classify(op string, status int, msg string) error {
	switch {
	case status == http.StatusUnauthorized:
		return syncerr.New(syncerr.Unauthenticated, op, fmt.Errorf("%w: %s", ErrUnauthorized, msg))
	case status == http.StatusForbidden:
		return syncerr.New(syncerr.PermissionDenied, op, fmt.Errorf("%w: %s", ErrForbidden, msg))
	case status == http.StatusNotFound:
		return syncerr.New(syncerr.PermissionDenied, op, fmt.Errorf("%w: %s", ErrNotFound, msg))
	case status == http.StatusTooManyRequests:
		return syncerr.New(syncerr.Transient, op, fmt.Errorf("%w: %s", ErrRateLimited, msg))
	case status >= 500:
		return syncerr.New(syncerr.Transient, op, fmt.Errorf("HTTP %d: %s", status, msg))
	default:
		return syncerr.New(syncerr.Validation, op, fmt.Errorf("HTTP %d: %s", status, msg))
	}
}
