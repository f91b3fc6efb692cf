package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/enrichment"
	"github.com/emirozbir/alertflow/internal/provider"
)

func newProvider(t *testing.T, auth map[string]any) *Provider {
	t.Helper()
	p, err := New(config.ProviderConfig{ID: "hook", Type: Type, Authentication: auth}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestNotify(t *testing.T) {
	var got map[string]any
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotHeader = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "msg-1"}`))
	}))
	defer server.Close()

	p := newProvider(t, map[string]any{
		"url":     server.URL,
		"method":  "put",
		"headers": map[string]any{"Authorization": "Bearer t"},
	})
	require.NoError(t, p.ValidateConfig())

	res, err := p.Notify(context.Background(), map[string]any{"body": map[string]any{"text": "disk full"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status_code": 200, "body": map[string]any{"id": "msg-1"}}, res)
	assert.Equal(t, map[string]any{"text": "disk full"}, got)
	assert.Equal(t, "Bearer t", gotHeader)
}

func TestNotifyPlainTextAndErrors(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	p := newProvider(t, map[string]any{"url": server.URL})
	res, err := p.Notify(context.Background(), map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.(map[string]any)["body"])

	status = http.StatusBadGateway
	_, err = p.Notify(context.Background(), map[string]any{"text": "hi"})
	assert.EqualError(t, err, "webhook returned status 502: ok")
}

func TestValidateConfig(t *testing.T) {
	assert.EqualError(t, newProvider(t, nil).ValidateConfig(), "url is required")
	assert.Error(t, newProvider(t, map[string]any{"url": "ftp://x"}).ValidateConfig())
	assert.EqualError(t, newProvider(t, map[string]any{"url": "http://x", "method": "get"}).ValidateConfig(), "unsupported method GET")
}

type recordingStore struct{ fields map[string]any }

func (s *recordingStore) EnrichAlert(ctx context.Context, tenantID, fingerprint string, fields map[string]any) error {
	s.fields = fields
	return nil
}

func (s *recordingStore) GetEnrichments(ctx context.Context, tenantID string, fingerprints []string) ([]enrichment.Record, error) {
	return nil, nil
}

func TestNotifyThroughInstanceEnrichesFromResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ticket": {"url": "https://tickets/42"}}`))
	}))
	defer server.Close()

	store := &recordingStore{}
	exec := provider.NewExecContext("acme", "key", nil)
	exec.Event = map[string]any{"fingerprint": "fp-1"}
	inst, err := provider.New(exec, config.ProviderConfig{ID: "hook", Type: Type, Authentication: map[string]any{"url": server.URL}}, provider.WithStore(store))
	require.NoError(t, err)

	_, err = inst.Notify(context.Background(), provider.Request{
		Params:      map[string]any{"body": "x"},
		EnrichAlert: []enrichment.Instruction{{Key: "ticket_url", Value: "results.body.ticket.url"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ticket_url": "https://tickets/42"}, store.fields)
}

func TestRegistration(t *testing.T) {
	reg, err := provider.Lookup(Type)
	require.NoError(t, err)
	assert.Equal(t, []provider.Tag{provider.TagMessaging}, reg.Tags)
	assert.True(t, reg.Capabilities.Notifier)
	assert.False(t, reg.Capabilities.Querier)
}
