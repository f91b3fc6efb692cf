package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/apperr"
	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/delivery"
	"github.com/emirozbir/alertflow/internal/enrichment"
	"github.com/emirozbir/alertflow/internal/metrics"
	"github.com/emirozbir/alertflow/internal/models"
	"github.com/emirozbir/alertflow/internal/provider"
)

// AlertStore persists ingested alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, tenantID, providerType string, alert *models.Alert) error
	ListAlerts(ctx context.Context, tenantID string, limit int) ([]*models.Alert, error)
}

type Handler struct {
	config      atomic.Pointer[config.Config]
	alerts      AlertStore
	enrichments enrichment.Store
	pusher      delivery.Pusher
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewHandler(cfg *config.Config, alerts AlertStore, enrichments enrichment.Store, pusher delivery.Pusher, m *metrics.Metrics, logger *zap.Logger) *Handler {
	h := &Handler{
		alerts:      alerts,
		enrichments: enrichments,
		pusher:      pusher,
		metrics:     m,
		logger:      logger,
	}
	h.config.Store(cfg)
	return h
}

// UpdateConfig swaps the tenant configuration used by new requests.
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.config.Store(cfg)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// fail writes err with the status its code maps to.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch apperr.CodeOf(err) {
	case apperr.CodeProviderNotFound:
		status = http.StatusNotFound
	case apperr.CodeBadRequest, apperr.CodeMalformedPayload, apperr.CodeConfig:
		status = http.StatusBadRequest
	case apperr.CodeNotImplemented:
		status = http.StatusNotImplemented
	case apperr.CodeMissingFingerprint:
		status = http.StatusUnprocessableEntity
	case apperr.CodeNoFixtures:
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apperr.CodeOf(err)})
}

func badRequest(err error) error {
	return apperr.New(apperr.CodeBadRequest, "invalid request", err)
}

// instance builds the tenant's provider named by the :id path parameter.
// The caller disposes it.
func (h *Handler) instance(c *gin.Context, exec *provider.ExecContext) (*provider.Instance, error) {
	tenant := tenantFrom(c)
	id := c.Param("id")
	cfg, ok := tenant.Provider(id)
	if !ok {
		return nil, apperr.New(apperr.CodeProviderNotFound, "provider "+id+" is not installed", nil)
	}
	return h.newInstance(exec, *cfg)
}

func (h *Handler) newInstance(exec *provider.ExecContext, cfg config.ProviderConfig) (*provider.Instance, error) {
	return provider.New(exec, cfg,
		provider.WithStore(h.enrichments),
		provider.WithPusher(h.pusher),
		provider.WithMetrics(h.metrics),
	)
}

func (h *Handler) execContext(c *gin.Context) *provider.ExecContext {
	tenant := tenantFrom(c)
	return provider.NewExecContext(tenant.ID, c.GetString(apiKeyKey), h.logger)
}

func (h *Handler) dispose(inst *provider.Instance) {
	if err := inst.Dispose(); err != nil {
		h.logger.Warn("failed to dispose provider", zap.String("provider_id", inst.ID), zap.Error(err))
	}
}

type installedProvider struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	Name         string                `json:"name,omitempty"`
	Capabilities provider.Capabilities `json:"capabilities"`
}

// ListProviders returns the registered provider types and the providers
// installed for the tenant.
func (h *Handler) ListProviders(c *gin.Context) {
	tenant := tenantFrom(c)
	installed := make([]installedProvider, 0, len(tenant.Providers))
	for _, p := range tenant.Providers {
		item := installedProvider{ID: p.ID, Type: p.Type, Name: p.Name}
		if reg, err := provider.Lookup(p.Type); err == nil {
			item.Capabilities = reg.Capabilities
		}
		installed = append(installed, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"types":     provider.Registrations(),
		"installed": installed,
	})
}

func (h *Handler) ProviderAlerts(c *gin.Context) {
	exec := h.execContext(c)
	inst, err := h.instance(c, exec)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer h.dispose(inst)

	grouped, err := inst.GetAlertsByFingerprint(c.Request.Context(), exec.TenantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, grouped)
}

type providerError struct {
	ProviderID string `json:"provider_id"`
	Error      string `json:"error"`
}

// AllProviderAlerts fetches every installed provider that can list alerts
// in parallel and groups the combined result.
func (h *Handler) AllProviderAlerts(c *gin.Context) {
	tenant := tenantFrom(c)
	exec := h.execContext(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	var (
		alerts []*models.Alert
		errs   = []providerError{}
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	for _, cfg := range tenant.Providers {
		reg, err := provider.Lookup(cfg.Type)
		if err != nil || !reg.Capabilities.Fetcher {
			continue
		}

		wg.Add(1)
		go func(cfg config.ProviderConfig) {
			defer wg.Done()

			// Each goroutine gets its own execution context.
			inst, err := h.newInstance(provider.NewExecContext(exec.TenantID, exec.APIKey, h.logger), cfg)
			if err == nil {
				defer h.dispose(inst)
				var fetched []*models.Alert
				fetched, err = inst.GetAlerts(ctx)
				if err == nil {
					mu.Lock()
					alerts = append(alerts, fetched...)
					mu.Unlock()
					return
				}
			}

			h.logger.Error("failed to fetch provider alerts", zap.String("provider_id", cfg.ID), zap.Error(err))
			mu.Lock()
			errs = append(errs, providerError{ProviderID: cfg.ID, Error: err.Error()})
			mu.Unlock()
		}(cfg)
	}

	// Wait for all fetches to complete
	wg.Wait()

	g := provider.Grouper{Store: h.enrichments, Logger: h.logger, SpanPrefix: "api"}
	grouped, err := g.GroupAndEnrich(ctx, alerts, tenant.ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	// Return 200 even with partial failures
	c.JSON(http.StatusOK, gin.H{"alerts": grouped, "errors": errs})
}

type callRequest struct {
	provider.Request
	Event   map[string]any `json:"event,omitempty"`
	Foreach any            `json:"foreach,omitempty"`
}

func (h *Handler) Query(c *gin.Context) {
	h.call(c, (*provider.Instance).Query)
}

func (h *Handler) Notify(c *gin.Context) {
	h.call(c, (*provider.Instance).Notify)
}

func (h *Handler) call(c *gin.Context, fn func(*provider.Instance, context.Context, provider.Request) (any, error)) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(err))
		return
	}

	exec := h.execContext(c)
	if req.Event != nil {
		exec.Event = req.Event
	}
	if req.Foreach != nil {
		exec.Foreach = req.Foreach
	}

	inst, err := h.instance(c, exec)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer h.dispose(inst)

	results, err := fn(inst, c.Request.Context(), req.Request)
	if err != nil {
		enrichFailed := errors.Is(err, apperr.ErrMissingFingerprint) || errors.Is(err, apperr.ErrStorage)
		if results == nil || !enrichFailed {
			h.fail(c, err)
			return
		}
		// The provider call succeeded; only the enrichment failed.
		c.JSON(http.StatusOK, gin.H{"results": results, "enrichment_error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "dependencies": exec.Dependencies.List()})
}

func (h *Handler) ProviderStatus(c *gin.Context) {
	inst, err := h.instance(c, h.execContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer h.dispose(inst)
	c.JSON(http.StatusOK, inst.Status())
}

func (h *Handler) ProviderExpose(c *gin.Context) {
	inst, err := h.instance(c, h.execContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer h.dispose(inst)
	c.JSON(http.StatusOK, inst.Expose())
}

func (h *Handler) ProviderScopes(c *gin.Context) {
	inst, err := h.instance(c, h.execContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer h.dispose(inst)
	c.JSON(http.StatusOK, inst.ValidateScopes(c.Request.Context()))
}

// SimulateAlert returns a sample payload of the provider type.
func (h *Handler) SimulateAlert(c *gin.Context) {
	payload, err := provider.SimulateAlert(c.Param("type"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}
