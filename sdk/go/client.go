package cadrelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Cadreline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Plan represents a staffing plan.
type Plan struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status"`
	CreatedBy    string `json:"created_by"`
	ApprovedBy   string `json:"approved_by,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
	AppliedAt    string `json:"applied_at,omitempty"`
	Moves        []Move `json:"moves,omitempty"`
}

// Move is one staged staffing change.
type Move struct {
	ID           string          `json:"id"`
	PlanID       string          `json:"plan_id"`
	Seq          int             `json:"seq"`
	CadreID      string          `json:"cadre_id"`
	FromUnitID   string          `json:"from_unit_id,omitempty"`
	ToUnitID     string          `json:"to_unit_id,omitempty"`
	Type         string          `json:"type"`
	Role         string          `json:"role,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	RiskSnapshot json.RawMessage `json:"risk_snapshot,omitempty"`
}

// Violation names a move that failed validation.
type Violation struct {
	MoveID  string `json:"move_id"`
	Seq     int    `json:"seq"`
	CadreID string `json:"cadre_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validation is the result of a dry-run validation.
type Validation struct {
	PlanID     string      `json:"plan_id"`
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Context    map[string]any `json:"context"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// MoveInput describes a move to stage.
type MoveInput struct {
	CadreID    string `json:"cadre_id"`
	Type       string `json:"type"`
	FromUnitID string `json:"from_unit_id,omitempty"`
	ToUnitID   string `json:"to_unit_id,omitempty"`
	Role       string `json:"role,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// APIError wraps non-2xx responses. Code and Details come from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Violations decodes details.violations of a validation_failed error.
func (e *APIError) Violations() []Violation {
	raw, ok := e.Details["violations"]
	if !ok {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out []Violation
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// CreatePlan creates a DRAFT plan.
func (c *Client) CreatePlan(ctx context.Context, title, description string) (Plan, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	var resp Plan
	err := c.do(ctx, http.MethodPost, "plans", body, &resp)
	return resp, err
}

// GetPlan fetches a plan with its moves.
func (c *Client) GetPlan(ctx context.Context, id string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, "plans/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// AddMove stages a move on a DRAFT plan.
func (c *Client) AddMove(ctx context.Context, planID string, in MoveInput) (Move, error) {
	var resp Move
	endpoint := fmt.Sprintf("plans/%s/moves", url.PathEscape(planID))
	err := c.do(ctx, http.MethodPost, endpoint, in, &resp)
	return resp, err
}

// Validate checks a plan without changing it. A plan with violations fails
// with an *APIError whose Violations lists every offending move; the returned
// Validation carries the same list.
func (c *Client) Validate(ctx context.Context, planID string) (Validation, error) {
	var resp Validation
	endpoint := fmt.Sprintf("plans/%s/validate", url.PathEscape(planID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "validation_failed" {
		return Validation{PlanID: planID, Violations: apiErr.Violations()}, err
	}
	return resp, err
}

// Submit moves a DRAFT plan to SUBMITTED.
func (c *Client) Submit(ctx context.Context, planID string) (Plan, error) {
	return c.transition(ctx, planID, "submit", nil)
}

// Approve moves a SUBMITTED plan to APPROVED.
func (c *Client) Approve(ctx context.Context, planID string) (Plan, error) {
	return c.transition(ctx, planID, "approve", nil)
}

// Apply writes an APPROVED plan to the membership ledger.
func (c *Client) Apply(ctx context.Context, planID string) (Plan, error) {
	return c.transition(ctx, planID, "apply", nil)
}

// Reject closes a plan with an optional reason.
func (c *Client) Reject(ctx context.Context, planID, reason string) (Plan, error) {
	return c.transition(ctx, planID, "reject", map[string]any{"reason": reason})
}

// Cancel closes a DRAFT or SUBMITTED plan.
func (c *Client) Cancel(ctx context.Context, planID string) (Plan, error) {
	return c.transition(ctx, planID, "cancel", nil)
}

func (c *Client) transition(ctx context.Context, planID, op string, body any) (Plan, error) {
	var resp Plan
	endpoint := fmt.Sprintf("plans/%s/%s", url.PathEscape(planID), op)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
