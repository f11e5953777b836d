package crewlinesdk

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

// Client is a minimal Crewline HTTP API client.
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

// WorkOrder represents the API work order model (partial).
type WorkOrder struct {
	ID                 string   `json:"id"`
	TenantID           *string  `json:"tenant_id,omitempty"`
	Name               string   `json:"name"`
	Status             string   `json:"status"`
	Visibility         string   `json:"visibility"`
	PublicStatus       string   `json:"public_status"`
	Budget             *float64 `json:"budget,omitempty"`
	ApplicationCount   int      `json:"application_count"`
	ExecutorID         string   `json:"executor_id,omitempty"`
	ExecutorName       string   `json:"executor_name,omitempty"`
	AcceptedBidID      *string  `json:"accepted_bid_id,omitempty"`
	ContractorPayment  *float64 `json:"contractor_payment,omitempty"`
	ReportLink         string   `json:"report_link,omitempty"`
	ClosingDocumentURL string   `json:"closing_document_url,omitempty"`
}

// Bid represents a contractor's application.
type Bid struct {
	ID             string  `json:"id"`
	WorkOrderID    string  `json:"work_order_id"`
	ContractorID   string  `json:"contractor_id"`
	ContractorName string  `json:"contractor_name,omitempty"`
	CoverMessage   string  `json:"cover_message"`
	ProposedBudget float64 `json:"proposed_budget"`
	Status         string  `json:"status"`
}

// Membership represents a tenant membership.
type Membership struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// Event represents a log entry.
type Event struct {
	ID          int64          `json:"id"`
	WorkOrderID string         `json:"work_order_id"`
	Action      string         `json:"action"`
	Author      string         `json:"author"`
	AuthorID    string         `json:"author_id"`
	TS          string         `json:"ts"`
	Details     map[string]any `json:"details,omitempty"`
}

// AcceptResult is the outcome of accepting a bid.
type AcceptResult struct {
	WorkOrder  WorkOrder  `json:"work_order"`
	Bid        Bid        `json:"bid"`
	Membership Membership `json:"membership"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCapacityExceeded reports whether the error is a quota rejection.
func (e *APIError) IsCapacityExceeded() bool {
	return e.StatusCode == http.StatusPaymentRequired
}

// CreateWorkOrder creates a work order.
func (c *Client) CreateWorkOrder(ctx context.Context, tenantID, name string) (WorkOrder, error) {
	body := map[string]any{
		"tenant_id": tenantID,
		"name":      name,
	}
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, "v0/workorders", body, &resp)
	return resp, err
}

// GetWorkOrder fetches a work order by id.
func (c *Client) GetWorkOrder(ctx context.Context, id string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodGet, "v0/workorders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateWorkOrder applies a lifecycle change; fields follow the PATCH body.
func (c *Client) UpdateWorkOrder(ctx context.Context, id string, change map[string]any) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPatch, "v0/workorders/"+url.PathEscape(id), change, &resp)
	return resp, err
}

// Publish makes a work order public.
func (c *Client) Publish(ctx context.Context, id string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPatch, "v0/workorders/"+url.PathEscape(id)+"/publish",
		map[string]any{"visibility": "public"}, &resp)
	return resp, err
}

// Unpublish closes a work order's public listing.
func (c *Client) Unpublish(ctx context.Context, id string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPatch, "v0/workorders/"+url.PathEscape(id)+"/publish",
		map[string]any{"visibility": "private"}, &resp)
	return resp, err
}

// SubmitBid files a bid on a public work order as the authenticated user.
func (c *Client) SubmitBid(ctx context.Context, workOrderID, coverMessage string, budget float64) (Bid, error) {
	body := map[string]any{
		"cover_message":   coverMessage,
		"proposed_budget": budget,
	}
	var resp Bid
	err := c.do(ctx, http.MethodPost, "v0/workorders/"+url.PathEscape(workOrderID)+"/bids", body, &resp)
	return resp, err
}

// AcceptBid accepts a bid, assigning the contractor.
func (c *Client) AcceptBid(ctx context.Context, workOrderID, bidID string) (AcceptResult, error) {
	var resp AcceptResult
	endpoint := fmt.Sprintf("v0/workorders/%s/bids/%s", url.PathEscape(workOrderID), url.PathEscape(bidID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"action": "accept"}, &resp)
	return resp, err
}

// WithdrawBid retracts the authenticated contractor's bid.
func (c *Client) WithdrawBid(ctx context.Context, workOrderID, bidID string) (Bid, error) {
	var resp AcceptResult
	endpoint := fmt.Sprintf("v0/workorders/%s/bids/%s", url.PathEscape(workOrderID), url.PathEscape(bidID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"action": "withdraw"}, &resp)
	return resp.Bid, err
}

// ListBids returns all bids on a work order.
func (c *Client) ListBids(ctx context.Context, workOrderID string) ([]Bid, error) {
	var resp []Bid
	err := c.do(ctx, http.MethodGet, "v0/workorders/"+url.PathEscape(workOrderID)+"/bids", nil, &resp)
	return resp, err
}

// Events returns a work order's log in append order.
func (c *Client) Events(ctx context.Context, workOrderID string) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, "v0/workorders/"+url.PathEscape(workOrderID)+"/events", nil, &resp)
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
