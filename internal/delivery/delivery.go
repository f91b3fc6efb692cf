// Package delivery submits normalized alerts to the platform event endpoint.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emirozbir/alertflow/internal/models"
)

// EventPath is appended to the base URL for every push.
const EventPath = "/alerts/event"

// Pusher delivers one alert on behalf of a tenant.
type Pusher interface {
	Push(ctx context.Context, apiKey string, alert *models.Alert) error
}

// Client posts alerts as JSON to {baseURL}/alerts/event.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a delivery client for the API at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Push sends alert once. Any transport error or non-2xx response is
// returned; callers decide whether to retry.
func (c *Client) Push(ctx context.Context, apiKey string, alert *models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EventPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-KEY", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		content, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("event endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(content)))
	}
	return nil
}
