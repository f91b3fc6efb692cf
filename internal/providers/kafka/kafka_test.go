package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/apperr"
	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/provider"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	err       error
	committed []int64
	closed    bool
}

// FetchMessage returns queued messages, then err, or blocks until ctx ends.
func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return kafka.Message{}, err
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type sink struct {
	mu       sync.Mutex
	payloads []any
	done     chan struct{}
	want     int
}

func (s *sink) PushAlert(ctx context.Context, raw any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, raw)
	if len(s.payloads) == s.want {
		close(s.done)
	}
}

func newProvider(t *testing.T, auth map[string]any) *Provider {
	t.Helper()
	p, err := New(config.ProviderConfig{ID: "queue", Type: Type, Authentication: auth}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestNewDefaults(t *testing.T) {
	p := newProvider(t, map[string]any{"brokers": "kafka-1:9092, kafka-2:9092", "topic": "alerts"})
	require.NoError(t, p.ValidateConfig())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, p.auth.Brokers)
	assert.Equal(t, "alertflow-queue", p.auth.GroupID)
	assert.Equal(t, "alerts", p.auth.NotifyTopic)
	assert.Equal(t, "idle", p.Status().Status)
}

func TestValidateConfig(t *testing.T) {
	assert.EqualError(t, newProvider(t, map[string]any{"topic": "alerts"}).ValidateConfig(), "brokers cannot be empty")
	assert.EqualError(t, newProvider(t, map[string]any{"brokers": []any{"k:9092"}}).ValidateConfig(), "topic cannot be empty")

	_, err := provider.New(nil, config.ProviderConfig{ID: "q", Type: Type})
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestStartConsumePushesAndCommits(t *testing.T) {
	p := newProvider(t, map[string]any{"brokers": []any{"k:9092"}, "topic": "alerts"})
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte(`{"name":"one"}`)},
		{Offset: 2, Value: []byte(`{"name":"two"}`)},
	}}
	p.newReader = func() messageReader { return reader }

	s := &sink{done: make(chan struct{}), want: 2}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.StartConsume(ctx, s) }()

	<-s.done
	assert.Eventually(t, func() bool { return p.Status().Details["consumed"] == int64(2) }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "consuming", p.Status().Status)

	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, "stopped", p.Status().Status)
	assert.Equal(t, []any{[]byte(`{"name":"one"}`), []byte(`{"name":"two"}`)}, s.payloads)
	assert.Equal(t, []int64{1, 2}, reader.committed)

	require.NoError(t, p.Dispose())
	assert.True(t, reader.closed)
}

func TestStartConsumeReportsReadErrors(t *testing.T) {
	p := newProvider(t, map[string]any{"brokers": []any{"k:9092"}, "topic": "alerts"})
	p.newReader = func() messageReader { return &fakeReader{err: errors.New("broker unreachable")} }

	err := p.StartConsume(context.Background(), &sink{done: make(chan struct{})})
	assert.ErrorContains(t, err, "broker unreachable")

	status := p.Status()
	assert.Equal(t, "error", status.Status)
	assert.Equal(t, "broker unreachable", status.Error)
}

func TestNotify(t *testing.T) {
	p := newProvider(t, map[string]any{"brokers": []any{"k:9092"}, "topic": "alerts", "notify_topic": "outbound"})
	w := &fakeWriter{}
	p.writer = w

	res, err := p.Notify(context.Background(), map[string]any{"message": map[string]any{"text": "hi"}, "key": "tenant-a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"topic": "outbound", "bytes": 13}, res)
	require.Len(t, w.messages, 1)
	assert.Equal(t, `{"text":"hi"}`, string(w.messages[0].Value))
	assert.Equal(t, "tenant-a", string(w.messages[0].Key))

	_, err = p.Notify(context.Background(), map[string]any{})
	assert.EqualError(t, err, "message is required")

	w.err = errors.New("leader not available")
	_, err = p.Notify(context.Background(), map[string]any{"message": "x"})
	assert.ErrorContains(t, err, "leader not available")

	require.NoError(t, p.Dispose())
	assert.True(t, w.closed)
}

func TestRegistration(t *testing.T) {
	reg, err := provider.Lookup(Type)
	require.NoError(t, err)
	assert.True(t, reg.Capabilities.Consumer)
	assert.True(t, reg.Capabilities.StatusReporter)
	assert.True(t, reg.Capabilities.Notifier)
	assert.False(t, reg.Capabilities.Fetcher)
	assert.True(t, provider.IsConsumer(Type))
}
