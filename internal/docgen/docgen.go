// Package docgen calls the external document service that renders closing
// documents for agreed work orders.
package docgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crewline/internal/config"
	"crewline/internal/domain"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	url    string
	client *http.Client
}

// New builds a client from configuration, or nil when no document service is
// configured.
func New(cfg config.Documents) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{url: cfg.URL, client: &http.Client{Timeout: timeout}}
}

type generateRequest struct {
	WorkOrderID string   `json:"work_order_id"`
	Name        string   `json:"name"`
	TenantID    *string  `json:"tenant_id,omitempty"`
	Executor    string   `json:"executor,omitempty"`
	Payment     *float64 `json:"payment,omitempty"`
	ReportLink  string   `json:"report_link,omitempty"`
}

type generateResponse struct {
	URL string `json:"url"`
}

// Generate asks the document service for a closing document and returns its
// URL.
func (c *Client) Generate(ctx context.Context, w domain.WorkOrder) (string, error) {
	body, err := json.Marshal(generateRequest{
		WorkOrderID: w.ID,
		Name:        w.Name,
		TenantID:    w.TenantID,
		Executor:    w.ExecutorName,
		Payment:     w.ContractorPayment,
		ReportLink:  w.ReportLink,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("document service status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out generateResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", errors.New("document service returned no url")
	}
	return out.URL, nil
}
