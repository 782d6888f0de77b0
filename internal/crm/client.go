// Package crm calls back into the CRM backend: bot tool endpoints during
// reply generation and the notification status callback after queued
// deliveries.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// toolEndpoints maps tool function names to CRM endpoints. An unknown name
// fails that call only, never the whole reply.
var toolEndpoints = map[string]string{
	"search_vacancies_tool":           "/api/bot_tools/vacancies",
	"validate_registration_tool":      "/api/bot_tools/validate_registration",
	"get_all_active_vacancies_tool":   "/api/bot_tools/all_active_vacancies",
	"get_vacancy_details_tool":        "/api/bot_tools/vacancy_details",
	"get_candidate_status_tool":       "/api/bot_tools/candidate_status",
	"get_vacancies_with_details_tool": "/api/bot_tools/vacancies_with_details",
}

// Client is an authenticated HTTP client for the CRM API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a CRM client. timeout bounds every call; a timed-out tool
// call is retryable by the model on the next turn, not fatal.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// CallTool performs the GET request behind a named bot tool and returns the
// decoded JSON payload.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]string) (json.RawMessage, error) {
	endpoint, ok := toolEndpoints[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	q := url.Values{}
	for k, v := range args {
		q.Set(k, v)
	}
	reqURL := c.baseURL + endpoint
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("tool %s: crm status %d: %s", name, resp.StatusCode, body)
	}
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("tool %s: crm returned invalid JSON", name)
	}
	return json.RawMessage(body), nil
}

// NotifyTaskStatus reports a queued postulation delivery outcome to the
// backend. Failures here are the caller's to log; they are never retried.
func (c *Client) NotifyTaskStatus(ctx context.Context, postulationID int64, status string) error {
	payload, err := json.Marshal(map[string]any{
		"postulation_id": postulationID,
		"status":         status,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/applications/update_notification_status", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify task status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify task status: crm status %d", resp.StatusCode)
	}
	return nil
}

// KnownTool reports whether a tool name maps to a CRM endpoint.
func KnownTool(name string) bool {
	_, ok := toolEndpoints[name]
	return ok
}
