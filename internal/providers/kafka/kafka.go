// Package kafka consumes alerts from a Kafka topic and publishes
// notifications to one.
package kafka

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/provider"
)

const Type = "kafka"

const scopeTopicRead = "topic_read"

const (
	statusIdle      = "idle"
	statusConsuming = "consuming"
	statusStopped   = "stopped"
	statusError     = "error"
)

//go:embed fixtures.yaml
var fixtures []byte

func init() {
	provider.MustRegister(provider.Registration{
		Type:        Type,
		DisplayName: "Kafka",
		Tags:        []provider.Tag{provider.TagQueue},
		Scopes: []provider.Scope{
			{Name: scopeTopicRead, Description: "Read partitions of the alert topic", Mandatory: true},
		},
		Fixtures: provider.MustLoadFixtures(fixtures),
	}, New)
}

type Authentication struct {
	Brokers     []string      `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	GroupID     string        `mapstructure:"group_id"`
	NotifyTopic string        `mapstructure:"notify_topic"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Provider struct {
	auth      Authentication
	logger    *zap.Logger
	newReader func() messageReader
	writer    messageWriter

	mu       sync.Mutex
	reader   messageReader
	health   provider.Health
	consumed atomic.Int64
}

func New(cfg config.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	var auth Authentication
	if err := provider.DecodeAuthentication(cfg, &auth); err != nil {
		return nil, err
	}
	auth.Brokers = parseBrokers(auth.Brokers)
	if auth.GroupID == "" {
		auth.GroupID = "alertflow-" + cfg.ID
	}
	if auth.NotifyTopic == "" {
		auth.NotifyTopic = auth.Topic
	}
	if auth.MaxWait <= 0 {
		auth.MaxWait = time.Second
	}

	k := &Provider{
		auth:   auth,
		logger: logger,
		health: provider.Health{Status: statusIdle},
	}
	k.newReader = func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     auth.Brokers,
			Topic:       auth.Topic,
			GroupID:     auth.GroupID,
			MinBytes:    1,
			MaxBytes:    10e6, // 10MB
			MaxWait:     auth.MaxWait,
			StartOffset: kafka.LastOffset,
		})
	}
	if len(auth.Brokers) > 0 {
		k.writer = &kafka.Writer{
			Addr:         kafka.TCP(auth.Brokers...),
			Topic:        auth.NotifyTopic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
		}
	}
	return k, nil
}

// parseBrokers accepts both lists and comma-separated entries.
func parseBrokers(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, b := range strings.Split(entry, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}

func (k *Provider) ValidateConfig() error {
	if len(k.auth.Brokers) == 0 {
		return errors.New("brokers cannot be empty")
	}
	if k.auth.Topic == "" {
		return errors.New("topic cannot be empty")
	}
	return nil
}

// Dispose stops a running consumer and closes the writer.
func (k *Provider) Dispose() error {
	var errs []error
	k.mu.Lock()
	if k.reader != nil {
		errs = append(errs, k.reader.Close())
		k.reader = nil
	}
	k.mu.Unlock()
	if k.writer != nil {
		errs = append(errs, k.writer.Close())
	}
	return errors.Join(errs...)
}

// ValidateScopes dials the first broker and reads the topic partitions.
func (k *Provider) ValidateScopes(ctx context.Context) map[string]provider.ScopeResult {
	if len(k.auth.Brokers) == 0 {
		return map[string]provider.ScopeResult{scopeTopicRead: {Error: "no brokers configured"}}
	}
	conn, err := kafka.DialContext(ctx, "tcp", k.auth.Brokers[0])
	if err != nil {
		return map[string]provider.ScopeResult{scopeTopicRead: {Error: err.Error()}}
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(k.auth.Topic)
	if err != nil {
		return map[string]provider.ScopeResult{scopeTopicRead: {Error: err.Error()}}
	}
	if len(partitions) == 0 {
		return map[string]provider.ScopeResult{scopeTopicRead: {Error: fmt.Sprintf("topic %s has no partitions", k.auth.Topic)}}
	}
	return map[string]provider.ScopeResult{scopeTopicRead: {Valid: true}}
}

// StartConsume reads messages until ctx is cancelled, handing each value to
// sink and committing it afterwards.
func (k *Provider) StartConsume(ctx context.Context, sink provider.AlertSink) error {
	reader := k.newReader()
	k.mu.Lock()
	k.reader = reader
	k.mu.Unlock()
	k.setHealth(statusConsuming, "")

	k.logger.Info("consuming alerts",
		zap.Strings("brokers", k.auth.Brokers),
		zap.String("topic", k.auth.Topic),
		zap.String("group_id", k.auth.GroupID))

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				k.setHealth(statusStopped, "")
				k.logger.Info("consumer stopped", zap.Int64("consumed", k.consumed.Load()))
				return nil
			}
			k.setHealth(statusError, err.Error())
			return fmt.Errorf("failed to read message from Kafka: %w", err)
		}

		sink.PushAlert(ctx, msg.Value)
		k.consumed.Add(1)

		if err := reader.CommitMessages(ctx, msg); err != nil {
			k.logger.Warn("failed to commit message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (k *Provider) setHealth(status, errText string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.health.Status = status
	k.health.Error = errText
}

func (k *Provider) Status() provider.Health {
	k.mu.Lock()
	defer k.mu.Unlock()
	h := k.health
	h.Details = map[string]any{
		"topic":    k.auth.Topic,
		"group_id": k.auth.GroupID,
		"consumed": k.consumed.Load(),
	}
	return h
}

// Notify publishes params["message"] to the notify topic. Strings and byte
// slices are sent as is, anything else as JSON.
func (k *Provider) Notify(ctx context.Context, params map[string]any) (any, error) {
	if k.writer == nil {
		return nil, errors.New("no brokers configured")
	}
	raw, ok := params["message"]
	if !ok {
		return nil, errors.New("message is required")
	}

	var value []byte
	switch v := raw.(type) {
	case string:
		value = []byte(v)
	case []byte:
		value = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		value = data
	}

	msg := kafka.Message{Value: value}
	if key, ok := params["key"].(string); ok && key != "" {
		msg.Key = []byte(key)
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return map[string]any{"topic": k.auth.NotifyTopic, "bytes": len(value)}, nil
}
