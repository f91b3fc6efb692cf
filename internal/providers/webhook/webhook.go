// Package webhook sends notifications as JSON HTTP requests.
package webhook

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

	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/provider"
)

const Type = "webhook"

func init() {
	provider.MustRegister(provider.Registration{
		Type:        Type,
		DisplayName: "Webhook",
		Tags:        []provider.Tag{provider.TagMessaging},
	}, New)
}

type Authentication struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

type Provider struct {
	auth   Authentication
	client *http.Client
	logger *zap.Logger
}

func New(cfg config.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	var auth Authentication
	if err := provider.DecodeAuthentication(cfg, &auth); err != nil {
		return nil, err
	}
	if auth.Method == "" {
		auth.Method = http.MethodPost
	}
	auth.Method = strings.ToUpper(auth.Method)
	if auth.Timeout <= 0 {
		auth.Timeout = 10 * time.Second
	}

	return &Provider{
		auth:   auth,
		client: &http.Client{Timeout: auth.Timeout},
		logger: logger,
	}, nil
}

func (w *Provider) ValidateConfig() error {
	if w.auth.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(w.auth.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid url %q", w.auth.URL)
	}
	switch w.auth.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return nil
	}
	return fmt.Errorf("unsupported method %s", w.auth.Method)
}

func (w *Provider) Dispose() error {
	w.client.CloseIdleConnections()
	return nil
}

// Notify sends params["body"] (or all params when absent) as JSON. The
// response body is returned decoded when it is JSON, as text otherwise.
func (w *Provider) Notify(ctx context.Context, params map[string]any) (any, error) {
	var payload any = params
	if body, ok := params["body"]; ok {
		payload = body
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.auth.Method, w.auth.URL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.auth.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Error("webhook returned an error",
			zap.String("url", w.auth.URL),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(content)))
	}

	var body any = string(content)
	var decoded any
	if len(content) > 0 && json.Unmarshal(content, &decoded) == nil {
		body = decoded
	}
	return map[string]any{"status_code": resp.StatusCode, "body": body}, nil
}
