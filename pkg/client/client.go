// Package client is a Go SDK for the vitalsync daemon's HTTP API. Host
// applications use it to capture records, trigger sync cycles, and page
// through local change feeds.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running vitalsync daemon.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client for the daemon at config.BaseURL.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if query != nil {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CaptureClient stores a client document. The payload must carry
// baseEntityId.
func (c *Client) CaptureClient(ctx context.Context, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/api/v1/records/clients", nil, payload, nil)
}

// CaptureEvent stores an event document and returns its formSubmissionId,
// assigned by the daemon when the payload lacks one.
func (c *Client) CaptureEvent(ctx context.Context, payload json.RawMessage) (string, error) {
	var resp struct {
		FormSubmissionID string `json:"formSubmissionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/records/events", nil, payload, &resp); err != nil {
		return "", err
	}
	return resp.FormSubmissionID, nil
}

// GetClient fetches a client record by its entity key.
func (c *Client) GetClient(ctx context.Context, baseEntityID string) (*ClientRecord, error) {
	var rec ClientRecord
	path := "/api/v1/records/clients/" + url.PathEscape(baseEntityID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetEvent fetches an event record by its submission key.
func (c *Client) GetEvent(ctx context.Context, formSubmissionID string) (*Event, error) {
	var rec Event
	path := "/api/v1/records/events/" + url.PathEscape(formSubmissionID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Status returns the daemon's sync backlog summary.
func (c *Client) Status(ctx context.Context) (*StatusReport, error) {
	var report StatusReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// TriggerSync queues an immediate sync cycle.
func (c *Client) TriggerSync(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sync", nil, nil, nil)
}

// Validate runs one validation round trip and returns its outcome.
func (c *Client) Validate(ctx context.Context) (string, error) {
	var resp struct {
		Outcome string `json:"outcome"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/validate", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Outcome, nil
}

// EventChanges pages the event change feed. after is the row sequence of the
// last event already seen; zero starts from the beginning.
func (c *Client) EventChanges(ctx context.Context, after int64, limit int) (*EventChanges, error) {
	var page EventChanges
	query := url.Values{}
	query.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/changes/events", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ClientChanges pages the client change feed.
func (c *Client) ClientChanges(ctx context.Context, after int64, limit int) (*ClientChanges, error) {
	var page ClientChanges
	query := url.Values{}
	query.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/changes/clients", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
