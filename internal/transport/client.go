package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"termbridge/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Error wraps a failed delivery to the reviewer. The local save has already
// committed when this surfaces; the caller retries with an explicit submit.
type Error struct {
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("submission delivery failed: status %d: %s", e.Status, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// Client posts submissions to a reviewer site's inbox. Methods never write
// to the struct, so one Client may serve concurrent operations.
type Client struct {
	BaseURL    string
	APIKey     string
	SiteID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, apiKey, siteID string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		SiteID:  siteID,
		Timeout: defaultTimeout,
	}
}

// Send delivers a serialized package to the reviewer. Delivery is idempotent
// on the reviewer side, keyed by the proposal uuids, so retrying wholesale is
// always safe.
func (c *Client) Send(ctx context.Context, sub domain.Submission) error {
	client := c.HTTPClient
	if client == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/v0/inbox/submissions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Termbridge-Site", c.SiteID)
	if strings.TrimSpace(c.APIKey) != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	res, err := client.Do(req)
	if err != nil {
		return &Error{Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &Error{Status: res.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}
	return nil
}
