package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/emirozbir/alertflow/internal/apperr"
	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/database"
	"github.com/emirozbir/alertflow/internal/enrichment"
	"github.com/emirozbir/alertflow/internal/metrics"
	"github.com/emirozbir/alertflow/internal/models"
)

type bareProvider struct{}

func (bareProvider) ValidateConfig() error { return nil }
func (bareProvider) Dispose() error        { return nil }

type fetchProvider struct {
	bareProvider
	alerts []*models.Alert
}

func (p *fetchProvider) GetAlerts(ctx context.Context) ([]*models.Alert, error) {
	return p.alerts, nil
}

type queryProvider struct {
	bareProvider
}

func (p *queryProvider) Query(ctx context.Context, params map[string]any) (any, error) {
	if err, ok := params["error"].(error); ok {
		return nil, err
	}
	return params["result"], nil
}

func (p *queryProvider) Notify(ctx context.Context, params map[string]any) (any, error) {
	return params["result"], nil
}

type consumerProvider struct {
	bareProvider
	payloads []any
}

func (p *consumerProvider) StartConsume(ctx context.Context, sink AlertSink) error {
	for _, raw := range p.payloads {
		sink.PushAlert(ctx, raw)
	}
	return nil
}

func (p *consumerProvider) Status() Health {
	return Health{Status: "consuming"}
}

type invalidProvider struct{ bareProvider }

func (invalidProvider) ValidateConfig() error { return errors.New("url is required") }

func init() {
	MustRegister(Registration{Type: "test-bare"}, func(cfg config.ProviderConfig, _ *zap.Logger) (*bareProvider, error) {
		return &bareProvider{}, nil
	})
	MustRegister(Registration{
		Type:              "test-fetch",
		Tags:              []Tag{TagAlert},
		FingerprintFields: []string{"name", "service"},
		Fixtures: MustLoadFixtures([]byte(`
disk:
  payload:
    name: disk full
    severity: critical
`)),
		Format: func(event map[string]any, _ Provider) ([]*models.Alert, error) {
			name, _ := event["title"].(string)
			return []*models.Alert{{Name: name}}, nil
		},
	}, func(cfg config.ProviderConfig, _ *zap.Logger) (*fetchProvider, error) {
		alerts, _ := cfg.Authentication["alerts"].([]*models.Alert)
		return &fetchProvider{alerts: alerts}, nil
	})
	MustRegister(Registration{Type: "test-query"}, func(cfg config.ProviderConfig, _ *zap.Logger) (*queryProvider, error) {
		return &queryProvider{}, nil
	})
	MustRegister(Registration{Type: "test-consumer", Tags: []Tag{TagQueue}}, func(cfg config.ProviderConfig, _ *zap.Logger) (*consumerProvider, error) {
		payloads, _ := cfg.Authentication["payloads"].([]any)
		return &consumerProvider{payloads: payloads}, nil
	})
	MustRegister(Registration{Type: "test-invalid"}, func(cfg config.ProviderConfig, _ *zap.Logger) (*invalidProvider, error) {
		return &invalidProvider{}, nil
	})
}

type fakeStore struct {
	mu       sync.Mutex
	records  []enrichment.Record
	enriched map[string]map[string]any
	gets     [][]string
	err      error
}

func (s *fakeStore) EnrichAlert(ctx context.Context, tenantID, fingerprint string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enriched == nil {
		s.enriched = make(map[string]map[string]any)
	}
	s.enriched[tenantID+"/"+fingerprint] = fields
	return nil
}

func (s *fakeStore) GetEnrichments(ctx context.Context, tenantID string, fingerprints []string) ([]enrichment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets = append(s.gets, fingerprints)
	return s.records, s.err
}

type fakePusher struct {
	mu     sync.Mutex
	apiKey string
	alerts []*models.Alert
	err    error
}

func (p *fakePusher) Push(ctx context.Context, apiKey string, alert *models.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apiKey = apiKey
	p.alerts = append(p.alerts, alert)
	return p.err
}

func newInstance(t *testing.T, exec *ExecContext, typ string, auth map[string]any, opts ...Option) *Instance {
	t.Helper()
	inst, err := New(exec, config.ProviderConfig{ID: typ + "-1", Type: typ, Authentication: auth}, opts...)
	require.NoError(t, err)
	return inst
}

func TestCapabilitiesFromConcreteType(t *testing.T) {
	reg, err := Lookup("TEST-CONSUMER")
	require.NoError(t, err)
	assert.True(t, reg.Capabilities.Consumer)
	assert.True(t, reg.Capabilities.StatusReporter)
	assert.False(t, reg.Capabilities.Querier)

	assert.True(t, IsConsumer("test-consumer"))
	assert.False(t, IsConsumer("test-fetch"))
	assert.False(t, IsConsumer("missing"))

	q, err := Lookup("test-query")
	require.NoError(t, err)
	assert.Equal(t, Capabilities{Querier: true, Notifier: true}, q.Capabilities)
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil, config.ProviderConfig{ID: "x", Type: "nope"})
	assert.ErrorIs(t, err, apperr.ErrProviderNotFound)

	_, err = New(nil, config.ProviderConfig{ID: "x", Type: "test-invalid"})
	assert.ErrorIs(t, err, apperr.ErrConfig)
	assert.ErrorContains(t, err, "url is required")
}

func TestQueryEnrichesEventAlert(t *testing.T) {
	store := &fakeStore{}
	exec := NewExecContext("acme", "key", nil)
	exec.Event = &models.Alert{Fingerprint: "fp-1"}
	inst := newInstance(t, exec, "test-query", nil, WithStore(store))

	results := map[string]any{"ticket": map[string]any{"id": "T-1"}}
	got, err := inst.Query(context.Background(), Request{
		Params: map[string]any{"result": results},
		EnrichAlert: []enrichment.Instruction{
			{Key: "ticket_id", Value: "results.ticket.id"},
			{Key: "team", Value: "sre"},
			{Key: "missing", Value: "results.nope"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, results, got)

	assert.Equal(t, map[string]any{"ticket_id": "T-1", "team": "sre"}, store.enriched["acme/fp-1"])
	assert.Equal(t, []string{"map[string]interface {}"}, exec.Dependencies.List())
	assert.Len(t, inst.Results(), 1)
}

func TestQueryPrefersResultFingerprint(t *testing.T) {
	store := &fakeStore{}
	exec := NewExecContext("acme", "key", nil)
	exec.Event = &models.Alert{Fingerprint: "from-event"}
	exec.Foreach = enrichment.Zipped{map[string]any{"fingerprint": "from-foreach"}, "x"}
	inst := newInstance(t, exec, "test-query", nil, WithStore(store))

	_, err := inst.Query(context.Background(), Request{
		Params:      map[string]any{"result": map[string]any{"fingerprint": "from-result"}},
		EnrichAlert: []enrichment.Instruction{{Key: "k", Value: "v"}},
	})
	require.NoError(t, err)
	assert.Contains(t, store.enriched, "acme/from-result")

	_, err = inst.Query(context.Background(), Request{
		Params:      map[string]any{"result": []any{"a"}},
		EnrichAlert: []enrichment.Instruction{{Key: "k", Value: "v"}},
	})
	require.NoError(t, err)
	assert.Contains(t, store.enriched, "acme/from-foreach")
	assert.Equal(t, []string{"map[string]interface {}", "string"}, exec.Dependencies.List())
}

func TestQueryWithoutFingerprintFails(t *testing.T) {
	inst := newInstance(t, NewExecContext("acme", "key", nil), "test-query", nil, WithStore(&fakeStore{}))
	_, err := inst.Query(context.Background(), Request{
		Params:      map[string]any{"result": "ok"},
		EnrichAlert: []enrichment.Instruction{{Key: "k", Value: "v"}},
	})
	assert.ErrorIs(t, err, apperr.ErrMissingFingerprint)
}

func TestQueryPropagatesProviderError(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	inst := newInstance(t, nil, "test-query", nil, WithMetrics(m))
	_, err := inst.Query(context.Background(), Request{Params: map[string]any{"error": errors.New("boom")}})
	assert.EqualError(t, err, "boom")
	assert.Empty(t, inst.Results())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("test-query", "query", "error")))
}

func TestNotifyWithNilResultSkipsEnrichment(t *testing.T) {
	store := &fakeStore{}
	exec := NewExecContext("acme", "key", nil)
	exec.Event = &models.Alert{Fingerprint: "fp-1"}
	inst := newInstance(t, exec, "test-query", nil, WithStore(store))

	got, err := inst.Notify(context.Background(), Request{EnrichAlert: []enrichment.Instruction{{Key: "k", Value: "v"}}})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, store.enriched)
	assert.Empty(t, exec.Dependencies.List())
	assert.Len(t, inst.Results(), 1)
}

func TestMissingCapabilitiesAreNotImplemented(t *testing.T) {
	inst := newInstance(t, nil, "test-bare", nil)
	ctx := context.Background()

	_, err := inst.Query(ctx, Request{})
	assert.ErrorIs(t, err, apperr.ErrNotImplemented)
	_, err = inst.Notify(ctx, Request{})
	assert.ErrorIs(t, err, apperr.ErrNotImplemented)
	_, err = inst.GetAlerts(ctx)
	assert.ErrorIs(t, err, apperr.ErrNotImplemented)
	_, err = inst.FormatAlert(map[string]any{})
	assert.ErrorIs(t, err, apperr.ErrNotImplemented)
	_, err = inst.SimulateAlert()
	assert.ErrorIs(t, err, apperr.ErrNoFixtures)

	assert.False(t, inst.IsConsumer())
	assert.NoError(t, inst.StartConsume(ctx))
	assert.Equal(t, Health{Status: "should be implemented by the provider if it has a consumer"}, inst.Status())
	assert.Empty(t, inst.Expose())
	assert.Empty(t, inst.ValidateScopes(ctx))
	assert.NoError(t, inst.Dispose())
}

func TestGetAlertsStampsProviderID(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	alerts := []*models.Alert{{Name: "a"}, {Name: "b"}}
	inst := newInstance(t, nil, "test-fetch", map[string]any{"alerts": alerts}, WithMetrics(m))

	got, err := inst.GetAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, a := range got {
		assert.Equal(t, "test-fetch-1", a.ProviderID)
		assert.Len(t, a.Fingerprint, 64)
	}
	assert.NotEqual(t, got[0].Fingerprint, got[1].Fingerprint)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsFetched.WithLabelValues("test-fetch")))
}

func TestGetAlertsByFingerprint(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	alerts := []*models.Alert{
		{Name: "late", Fingerprint: "f1", LastReceived: t2},
		{Name: "other", Fingerprint: "f2", LastReceived: t1},
		{Name: "early", Fingerprint: "f1", LastReceived: t1},
	}
	store := &fakeStore{records: []enrichment.Record{
		{Fingerprint: "f1", Enrichments: map[string]any{
			"note":      "investigating",
			"assignees": map[string]any{"*": "bob"},
			"deletedAt": []any{t1.Format(time.RFC3339)},
		}},
		{Fingerprint: "unknown", Enrichments: map[string]any{"note": "ignored"}},
	}}
	inst := newInstance(t, nil, "test-fetch", map[string]any{"alerts": alerts}, WithStore(store))

	grouped, err := inst.GetAlertsByFingerprint(context.Background(), "acme")
	require.NoError(t, err)

	require.Len(t, grouped, 2)
	require.Len(t, grouped["f1"], 2)
	assert.Equal(t, "early", grouped["f1"][0].Name)
	assert.Equal(t, "late", grouped["f1"][1].Name)
	assert.Equal(t, "other", grouped["f2"][0].Name)

	assert.Equal(t, [][]string{{"f1", "f2"}}, store.gets)
	for _, a := range grouped["f1"] {
		assert.Equal(t, "investigating", a.Note)
		assert.Equal(t, "bob", a.Assignee)
	}
	assert.True(t, grouped["f1"][0].Deleted)
	assert.False(t, grouped["f1"][1].Deleted)
	assert.Empty(t, grouped["f2"][0].Note)
}

func TestGetAlertsByFingerprintEmptySkipsStore(t *testing.T) {
	store := &fakeStore{}
	inst := newInstance(t, nil, "test-fetch", nil, WithStore(store))

	grouped, err := inst.GetAlertsByFingerprint(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, grouped)
	assert.NotNil(t, grouped)
	assert.Empty(t, store.gets)
}

func TestGroupAndEnrichLogsBadOverlay(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &fakeStore{records: []enrichment.Record{
		{Fingerprint: "f1", Enrichments: map[string]any{"deleted": "yes", "isDuplicate": "true", "ticket_url": "https://t/1"}},
	}}
	alerts := []*models.Alert{{Name: "a", Fingerprint: "f1"}}

	grouped, err := Grouper{Store: store, Logger: zap.New(core)}.GroupAndEnrich(context.Background(), alerts, "acme")
	require.NoError(t, err)

	a := grouped["f1"][0]
	assert.False(t, a.Deleted)
	assert.True(t, a.IsDuplicate)
	assert.Equal(t, "https://t/1", a.Extra["ticket_url"])
	assert.Equal(t, 1, logs.FilterMessage("failed to apply enrichment").Len())
}

func TestLiteralEnrichmentsOverlayStoredAlerts(t *testing.T) {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	_, err = enrichment.NewEnricher(db, nil, nil).Enrich(ctx, "acme", "f1", []enrichment.Instruction{
		{Key: "isDuplicate", Value: "true"},
		{Key: "dismissed", Value: "true"},
		{Key: "status", Value: "acknowledged"},
		{Key: "note", Value: "handled by sre"},
	}, nil)
	require.NoError(t, err)

	alerts := []*models.Alert{
		{Name: "a", Fingerprint: "f1", Status: models.StatusFiring},
		{Name: "b", Fingerprint: "f2", Status: models.StatusFiring},
	}
	grouped, err := GroupAndEnrich(ctx, alerts, "acme", db)
	require.NoError(t, err)

	a := grouped["f1"][0]
	assert.True(t, a.IsDuplicate)
	assert.True(t, a.Dismissed)
	assert.Equal(t, models.StatusAcknowledged, a.Status)
	assert.Equal(t, "handled by sre", a.Note)

	b := grouped["f2"][0]
	assert.False(t, b.IsDuplicate)
	assert.Equal(t, models.StatusFiring, b.Status)

	other, err := GroupAndEnrich(ctx, []*models.Alert{{Name: "a", Fingerprint: "f1"}}, "globex", db)
	require.NoError(t, err)
	assert.False(t, other["f1"][0].IsDuplicate)
}

func TestGroupAndEnrichStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	_, err := GroupAndEnrich(context.Background(), []*models.Alert{{Fingerprint: "f1"}}, "acme", store)
	assert.ErrorIs(t, err, apperr.ErrStorage)
}

func TestPushAlert(t *testing.T) {
	pusher := &fakePusher{}
	m := metrics.New(prometheus.NewRegistry())
	inst := newInstance(t, NewExecContext("acme", "tenant-key", nil), "test-bare", nil, WithPusher(pusher), WithMetrics(m))

	inst.PushAlert(context.Background(), `{"name":"cpu high"}`)

	require.Len(t, pusher.alerts, 1)
	assert.Equal(t, "tenant-key", pusher.apiKey)
	a := pusher.alerts[0]
	assert.Equal(t, "cpu high", a.Name)
	assert.Equal(t, models.StatusFiring, a.Status)
	assert.Equal(t, models.SeverityInfo, a.Severity)
	assert.Equal(t, []string{"test-bare"}, a.Source)
	assert.NotEmpty(t, a.ID)
	assert.NotEmpty(t, a.EventID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsPushed.WithLabelValues("test-bare", "ok")))
}

func TestPushAlertDropsMalformedPayload(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pusher := &fakePusher{}
	m := metrics.New(prometheus.NewRegistry())
	inst := newInstance(t, NewExecContext("acme", "k", zap.New(core)), "test-bare", nil, WithPusher(pusher), WithMetrics(m))

	inst.PushAlert(context.Background(), "not json")

	assert.Empty(t, pusher.alerts)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsDropped))
}

func TestPushAlertDeliveryFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	pusher := &fakePusher{err: errors.New("status 500")}
	inst := newInstance(t, NewExecContext("acme", "k", zap.New(core)), "test-bare", nil, WithPusher(pusher))

	inst.PushAlert(context.Background(), map[string]any{"name": "x"})

	assert.Len(t, pusher.alerts, 1)
	assert.Equal(t, 1, logs.FilterMessage("failed to push alert").Len())
}

func TestStartConsumePushesThroughInstance(t *testing.T) {
	pusher := &fakePusher{}
	inst := newInstance(t, NewExecContext("acme", "k", nil), "test-consumer",
		map[string]any{"payloads": []any{`{"name":"one"}`, []byte(`{"name":"two"}`), "garbage"}},
		WithPusher(pusher))

	assert.True(t, inst.IsConsumer())
	require.NoError(t, inst.StartConsume(context.Background()))
	require.Len(t, pusher.alerts, 2)
	assert.Equal(t, "one", pusher.alerts[0].Name)
	assert.Equal(t, "two", pusher.alerts[1].Name)
	assert.Equal(t, "consuming", inst.Status().Status)
}

func TestSimulateAlertReturnsCopy(t *testing.T) {
	payload, err := SimulateAlert("test-fetch")
	require.NoError(t, err)
	assert.Equal(t, "disk full", payload["name"])

	payload["name"] = "changed"
	again, err := SimulateAlert("test-fetch")
	require.NoError(t, err)
	assert.Equal(t, "disk full", again["name"])

	_, err = SimulateAlert("missing")
	assert.ErrorIs(t, err, apperr.ErrProviderNotFound)
}

func TestFormatAndParseRawBody(t *testing.T) {
	alerts, err := FormatAlert("test-fetch", map[string]any{"title": "cpu"}, nil)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "cpu", alerts[0].Name)

	body, err := ParseEventRawBody("test-fetch", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))
}

func TestFingerprintUsesRegisteredFields(t *testing.T) {
	inst := newInstance(t, nil, "test-fetch", nil)
	assert.Equal(t, []string{"name", "service"}, inst.FingerprintFields)

	a := &models.Alert{Name: "disk", Service: "db"}
	b := &models.Alert{Name: "disk", Service: "db", Message: "different"}
	assert.Equal(t, inst.Fingerprint(a), inst.Fingerprint(b))
	assert.Len(t, inst.Fingerprint(a), 64)

	override, err := New(nil, config.ProviderConfig{ID: "x", Type: "test-fetch", FingerprintFields: []string{"message"}})
	require.NoError(t, err)
	assert.NotEqual(t, override.Fingerprint(a), override.Fingerprint(b))
}

func TestScopeResultJSON(t *testing.T) {
	data, err := json.Marshal(map[string]ScopeResult{
		"read":  {Valid: true},
		"write": {Error: "forbidden"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"read": true, "write": "forbidden"}`, string(data))
}

func TestDecodeAuthentication(t *testing.T) {
	var auth struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
		Verify  bool          `mapstructure:"verify"`
	}
	err := DecodeAuthentication(config.ProviderConfig{ID: "am", Authentication: map[string]any{
		"url": "http://am:9093", "timeout": "5s", "verify": "true",
	}}, &auth)
	require.NoError(t, err)
	assert.Equal(t, "http://am:9093", auth.URL)
	assert.Equal(t, 5*time.Second, auth.Timeout)
	assert.True(t, auth.Verify)

	err = DecodeAuthentication(config.ProviderConfig{ID: "am", Authentication: map[string]any{"timeout": "soon"}}, &auth)
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestRegistrationsSorted(t *testing.T) {
	var names []string
	for _, reg := range Registrations() {
		names = append(names, reg.Type)
	}
	assert.IsIncreasing(t, names)
}
