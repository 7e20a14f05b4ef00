package portcallsdk

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

// Client is a minimal port-call HTTP API client.
type Client struct {
	BaseURL string
	// ActorID is sent as X-Actor-Id on every request.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL: baseURL,
		ActorID: actorID,
		Timeout: 10 * time.Second,
	}
}

// Visit represents a planned vessel visit.
type Visit struct {
	ID             string `json:"id"`
	VesselID       string `json:"vessel_id"`
	PlannedArrival string `json:"planned_arrival"`
	DockID         string `json:"dock_id,omitempty"`
}

// Execution represents the API visit execution model (partial).
type Execution struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`
	VisitID         string     `json:"visit_id"`
	VesselID        string     `json:"vessel_id"`
	Status          string     `json:"status"`
	ActualArrival   time.Time  `json:"actual_arrival"`
	ActualDockID    string     `json:"actual_dock_id,omitempty"`
	ActualUnberth   *time.Time `json:"actual_unberth,omitempty"`
	ActualLeavePort *time.Time `json:"actual_leave_port,omitempty"`
	Version         int        `json:"version"`
}

// Operation is one planned operation of a plan.
type Operation struct {
	ID                string     `json:"id,omitempty"`
	VisitRef          string     `json:"visit_ref,omitempty"`
	Vessel            string     `json:"vessel,omitempty"`
	Dock              string     `json:"dock"`
	Crane             string     `json:"crane,omitempty"`
	CraneCountUsed    int        `json:"crane_count_used,omitempty"`
	TotalCranesOnDock int        `json:"total_cranes_on_dock,omitempty"`
	Start             time.Time  `json:"start"`
	End               time.Time  `json:"end"`
	Staff             []string   `json:"staff,omitempty"`
	ExecutionStatus   string     `json:"execution_status,omitempty"`
	ActualStart       *time.Time `json:"actual_start,omitempty"`
	ActualEnd         *time.Time `json:"actual_end,omitempty"`
}

// Plan represents an operation plan.
type Plan struct {
	ID         string      `json:"id"`
	Algorithm  string      `json:"algorithm,omitempty"`
	Status     string      `json:"status,omitempty"`
	PlanDate   string      `json:"plan_date"`
	Author     string      `json:"author,omitempty"`
	Operations []Operation `json:"operations"`
	Version    int         `json:"version,omitempty"`
}

// ConflictReport is one finding of the conflict detector.
type ConflictReport struct {
	Severity      string   `json:"severity"`
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	RelatedVisits []string `json:"related_visits"`
}

// ReviseResult is the saved plan plus non-blocking findings.
type ReviseResult struct {
	Plan     Plan             `json:"plan"`
	Warnings []ConflictReport `json:"warnings"`
}

// APIError wraps non-2xx responses.
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

// BlockingCodes lists the conflict codes of a rejected revision.
func (e *APIError) BlockingCodes() []string {
	raw, _ := e.Details["codes"].([]any)
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// RegisterVisit records a planned visit.
func (c *Client) RegisterVisit(ctx context.Context, id, vesselID string, plannedArrival time.Time) (Visit, error) {
	body := map[string]any{
		"id":              id,
		"vessel_id":       vesselID,
		"planned_arrival": plannedArrival,
	}
	var resp Visit
	err := c.do(ctx, http.MethodPost, "visits", body, &resp)
	return resp, err
}

// CreateExecution opens the execution record of a visit.
func (c *Client) CreateExecution(ctx context.Context, visitID string, actualArrival time.Time) (Execution, error) {
	body := map[string]any{
		"visit_id":       visitID,
		"actual_arrival": actualArrival,
	}
	var resp Execution
	err := c.do(ctx, http.MethodPost, "executions", body, &resp)
	return resp, err
}

// GetExecution fetches an execution by id or code.
func (c *Client) GetExecution(ctx context.Context, ref string) (Execution, error) {
	var resp Execution
	err := c.do(ctx, http.MethodGet, "executions/"+url.PathEscape(ref), nil, &resp)
	return resp, err
}

// CompleteExecution records un-berth and leave-port times.
func (c *Client) CompleteExecution(ctx context.Context, code string, unberth, leavePort time.Time) (Execution, error) {
	body := map[string]any{
		"unberth_time":    unberth,
		"leave_port_time": leavePort,
	}
	var resp Execution
	endpoint := fmt.Sprintf("executions/%s/complete", url.PathEscape(code))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ImportPlan stores a generated plan.
func (c *Client) ImportPlan(ctx context.Context, plan Plan) (Plan, error) {
	ops := plan.Operations
	if ops == nil {
		ops = []Operation{}
	}
	body := map[string]any{
		"plan_date":  plan.PlanDate,
		"operations": ops,
	}
	if plan.ID != "" {
		body["id"] = plan.ID
	}
	if plan.Algorithm != "" {
		body["algorithm"] = plan.Algorithm
	}
	if plan.Status != "" {
		body["status"] = plan.Status
	}
	var resp Plan
	err := c.do(ctx, http.MethodPost, "plans", body, &resp)
	return resp, err
}

// GetPlan fetches a plan by id.
func (c *Client) GetPlan(ctx context.Context, id string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, "plans/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// RevisePlan replaces a visit's operations in a plan. A revision with blocking conflicts
// returns an *APIError with status 409 whose BlockingCodes lists them.
func (c *Client) RevisePlan(ctx context.Context, planID, visitRef, reason string, ops []Operation) (ReviseResult, error) {
	if ops == nil {
		ops = []Operation{}
	}
	body := map[string]any{
		"reason_for_change": reason,
		"operations":        ops,
	}
	var resp ReviseResult
	endpoint := fmt.Sprintf("plans/%s/visits/%s/revision", url.PathEscape(planID), url.PathEscape(visitRef))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
