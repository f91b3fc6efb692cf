// Package agent runs the long-lived consumers of every tenant's queue
// providers.
package agent

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/delivery"
	"github.com/emirozbir/alertflow/internal/enrichment"
	"github.com/emirozbir/alertflow/internal/metrics"
	"github.com/emirozbir/alertflow/internal/provider"
)

// Agent starts one consumer per consumer provider and restarts them all
// when the configuration changes.
type Agent struct {
	store   enrichment.Store
	pusher  delivery.Pusher
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	consumers map[string]*consumer
	wg        sync.WaitGroup
}

type consumer struct {
	tenantID string
	instance *provider.Instance
	cancel   context.CancelFunc
}

func NewAgent(store enrichment.Store, pusher delivery.Pusher, m *metrics.Metrics, logger *zap.Logger) *Agent {
	return &Agent{
		store:     store,
		pusher:    pusher,
		metrics:   m,
		logger:    logger,
		consumers: make(map[string]*consumer),
	}
}

func key(tenantID, providerID string) string {
	return tenantID + "/" + providerID
}

// Start launches consumers for cfg. Providers that fail to build are
// logged and skipped.
func (a *Agent) Start(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, tenant := range cfg.Tenants {
		for _, pc := range tenant.Providers {
			if !provider.IsConsumer(pc.Type) {
				continue
			}
			if _, running := a.consumers[key(tenant.ID, pc.ID)]; running {
				continue
			}
			a.startLocked(ctx, tenant, pc)
		}
	}
}

func (a *Agent) startLocked(ctx context.Context, tenant config.TenantConfig, pc config.ProviderConfig) {
	logger := a.logger.With(
		zap.String("tenant_id", tenant.ID),
		zap.String("provider_id", pc.ID),
		zap.String("provider_type", pc.Type),
	)

	exec := provider.NewExecContext(tenant.ID, tenant.APIKey, a.logger)
	inst, err := provider.New(exec, pc,
		provider.WithStore(a.store),
		provider.WithPusher(a.pusher),
		provider.WithMetrics(a.metrics),
	)
	if err != nil {
		logger.Error("failed to create consumer", zap.Error(err))
		return
	}

	k := key(tenant.ID, pc.ID)
	consumeCtx, cancel := context.WithCancel(ctx)
	c := &consumer{tenantID: tenant.ID, instance: inst, cancel: cancel}
	a.consumers[k] = c

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info("consumer started")
		err := inst.StartConsume(consumeCtx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			logger.Info("consumer stopped")
		default:
			logger.Error("consumer failed, it stays down until the next config reload", zap.Error(err))
		}
		if consumeCtx.Err() == nil {
			a.release(k, c)
		}
	}()
}

// release drops a consumer that returned on its own so Status stops
// reporting it and the next Start or Reload can replace it.
func (a *Agent) release(k string, c *consumer) {
	a.mu.Lock()
	current, ok := a.consumers[k]
	if ok && current == c {
		delete(a.consumers, k)
	}
	a.mu.Unlock()
	if !ok || current != c {
		// Stop owns it now.
		return
	}

	c.cancel()
	if err := c.instance.Dispose(); err != nil {
		a.logger.Warn("failed to dispose consumer", zap.String("consumer", k), zap.Error(err))
	}
}

// Reload stops every consumer and starts the ones cfg describes.
func (a *Agent) Reload(ctx context.Context, cfg *config.Config) {
	a.Stop()
	a.Start(ctx, cfg)
}

// Stop cancels every consumer, waits for them to return and disposes them.
func (a *Agent) Stop() {
	a.mu.Lock()
	consumers := a.consumers
	a.consumers = make(map[string]*consumer)
	a.mu.Unlock()

	for _, c := range consumers {
		c.cancel()
	}
	a.wg.Wait()

	for k, c := range consumers {
		if err := c.instance.Dispose(); err != nil {
			a.logger.Warn("failed to dispose consumer", zap.String("consumer", k), zap.Error(err))
		}
	}
}

// ConsumerStatus is the health of one running consumer.
type ConsumerStatus struct {
	TenantID   string          `json:"tenant_id"`
	ProviderID string          `json:"provider_id"`
	Type       string          `json:"type"`
	Health     provider.Health `json:"health"`
}

// Status reports the running consumers ordered by tenant and provider.
func (a *Agent) Status() []ConsumerStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	statuses := make([]ConsumerStatus, 0, len(a.consumers))
	for _, c := range a.consumers {
		statuses = append(statuses, ConsumerStatus{
			TenantID:   c.tenantID,
			ProviderID: c.instance.ID,
			Type:       c.instance.Type,
			Health:     c.instance.Status(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].TenantID != statuses[j].TenantID {
			return statuses[i].TenantID < statuses[j].TenantID
		}
		return statuses[i].ProviderID < statuses[j].ProviderID
	})
	return statuses
}
