package orgdesksdk

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

// Client is a minimal Orgdesk HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkItem represents the API work item model (partial).
type WorkItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	DueDate    *string `json:"due_date,omitempty"`
	DaysLeft   int     `json:"days_left"`
}

// RequestItem is one line of an inventory request.
type RequestItem struct {
	ID        string  `json:"id"`
	RequestID string  `json:"request_id"`
	Name      string  `json:"name"`
	OnHand    float64 `json:"on_hand"`
	Requested float64 `json:"requested"`
	Granted   float64 `json:"granted"`
	Price     float64 `json:"price"`
}

// Request is an inventory request with its items.
type Request struct {
	ID          string        `json:"id"`
	RequesterID string        `json:"requester_id"`
	Department  string        `json:"department,omitempty"`
	Status      string        `json:"status"`
	Items       []RequestItem `json:"items"`
}

// Product is a catalog entry.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// Summary is the aggregated report.
type Summary struct {
	WorkItemsByStatus map[string]int `json:"work_items_by_status"`
	PrincipalsByRole  map[string]int `json:"principals_by_role"`
	RequestsByStatus  map[string]int `json:"requests_by_status"`
	RequestedAmount   float64        `json:"requested_amount"`
	GrantedAmount     float64        `json:"granted_amount"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// RequestLine is an input line for CreateRequest.
type RequestLine struct {
	Name      string  `json:"name"`
	Unit      string  `json:"unit,omitempty"`
	Requested float64 `json:"requested"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateWorkItem creates a work item.
func (c *Client) CreateWorkItem(ctx context.Context, title, assigneeID, dueDate string) (WorkItem, error) {
	body := map[string]any{"title": title}
	if assigneeID != "" {
		body["assignee_id"] = assigneeID
	}
	if dueDate != "" {
		body["due_date"] = dueDate
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, "v1/workitems", body, &resp)
	return resp, err
}

// TransitionWorkItem moves a work item to a new status.
func (c *Client) TransitionWorkItem(ctx context.Context, id, status string) (WorkItem, error) {
	var resp WorkItem
	endpoint := fmt.Sprintf("v1/workitems/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// ListWorkItems returns work items, optionally filtered by status.
func (c *Client) ListWorkItems(ctx context.Context, status string) ([]WorkItem, error) {
	endpoint := "v1/workitems"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []WorkItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateRequest submits an inventory request.
func (c *Client) CreateRequest(ctx context.Context, department string, lines []RequestLine) (Request, error) {
	body := map[string]any{"lines": lines}
	if department != "" {
		body["department"] = department
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v1/requests", body, &resp)
	return resp, err
}

// GrantRequestItem records the granted amount for one item.
func (c *Client) GrantRequestItem(ctx context.Context, itemID string, granted float64) (RequestItem, error) {
	var resp RequestItem
	endpoint := fmt.Sprintf("v1/request-items/%s/grant", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"granted": granted}, &resp)
	return resp, err
}

// FinalizeRequest closes out a request.
func (c *Client) FinalizeRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	endpoint := fmt.Sprintf("v1/requests/%s/finalize", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// UpsertProduct creates or restocks a catalog product.
func (c *Client) UpsertProduct(ctx context.Context, name, unit string, quantity, price float64) (Product, error) {
	body := map[string]any{
		"name":     name,
		"unit":     unit,
		"quantity": quantity,
		"price":    price,
	}
	var resp Product
	err := c.do(ctx, http.MethodPut, "v1/catalog/products", body, &resp)
	return resp, err
}

// Summary returns the aggregated report.
func (c *Client) Summary(ctx context.Context) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, "v1/reports/summary", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
