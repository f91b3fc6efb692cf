package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/apperr"
	"github.com/emirozbir/alertflow/internal/fingerprint"
	"github.com/emirozbir/alertflow/internal/models"
	"github.com/emirozbir/alertflow/internal/normalize"
	"github.com/emirozbir/alertflow/internal/provider"
)

// PushEvent accepts one alert in canonical form. It is the endpoint the
// delivery client posts to.
func (h *Handler) PushEvent(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, badRequest(err))
		return
	}

	alert, err := normalize.Normalize(body, "alertflow")
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(alert.Source) == 0 {
		alert.Source = []string{"alertflow"}
	}
	providerType := alert.Source[0]
	if alert.Fingerprint == "" {
		var fields []string
		if reg, err := provider.Lookup(providerType); err == nil {
			fields = reg.FingerprintFields
		}
		alert.Fingerprint = fingerprint.Truncate(fingerprint.Compute(alert, fields))
	}

	tenant := tenantFrom(c)
	if err := h.alerts.SaveAlert(c.Request.Context(), tenant.ID, providerType, alert); err != nil {
		h.fail(c, apperr.New(apperr.CodeStorage, "failed to save alert", err))
		return
	}
	h.metrics.AlertIngested(providerType)

	c.JSON(http.StatusAccepted, gin.H{
		"event_id":    alert.EventID,
		"fingerprint": alert.Fingerprint,
	})
}

// PushProviderEvent accepts a native webhook payload of the :type provider
// and stores the alerts it formats to.
func (h *Handler) PushProviderEvent(c *gin.Context) {
	providerType := c.Param("type")
	reg, err := provider.Lookup(providerType)
	if err != nil {
		h.fail(c, err)
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.fail(c, badRequest(err))
		return
	}
	body, err := provider.ParseEventRawBody(reg.Type, raw)
	if err != nil {
		h.fail(c, apperr.New(apperr.CodeMalformedPayload, "failed to parse event body", err))
		return
	}
	var event map[string]any
	if err := json.Unmarshal(body, &event); err != nil {
		h.fail(c, apperr.New(apperr.CodeMalformedPayload, "event body is not a JSON object", err))
		return
	}

	alerts, err := provider.FormatAlert(reg.Type, event, nil)
	if err != nil {
		h.fail(c, err)
		return
	}

	tenant := tenantFrom(c)
	fingerprints := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		fillDefaults(alert, reg)
		if err := h.alerts.SaveAlert(c.Request.Context(), tenant.ID, reg.Type, alert); err != nil {
			h.fail(c, apperr.New(apperr.CodeStorage, "failed to save alert", err))
			return
		}
		h.metrics.AlertIngested(reg.Type)
		fingerprints = append(fingerprints, alert.Fingerprint)
	}

	h.logger.Info("provider event ingested",
		zap.String("tenant_id", tenant.ID),
		zap.String("provider_type", reg.Type),
		zap.Int("alerts", len(alerts)))

	c.JSON(http.StatusAccepted, gin.H{
		"alerts":       len(alerts),
		"fingerprints": fingerprints,
	})
}

func fillDefaults(alert *models.Alert, reg *provider.Registration) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.EventID == "" {
		alert.EventID = uuid.NewString()
	}
	if len(alert.Source) == 0 {
		alert.Source = []string{reg.Type}
	}
	if alert.LastReceived.IsZero() {
		alert.LastReceived = normalize.Now()
	}
	if alert.Fingerprint == "" {
		alert.Fingerprint = fingerprint.Truncate(fingerprint.Compute(alert, reg.FingerprintFields))
	}
}

// ListAlerts returns the tenant's stored alerts grouped by fingerprint.
func (h *Handler) ListAlerts(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(c, apperr.Newf(apperr.CodeBadRequest, "invalid limit %q", v))
			return
		}
		limit = n
	}

	tenant := tenantFrom(c)
	alerts, err := h.alerts.ListAlerts(c.Request.Context(), tenant.ID, limit)
	if err != nil {
		h.fail(c, apperr.New(apperr.CodeStorage, "failed to list alerts", err))
		return
	}

	g := provider.Grouper{Store: h.enrichments, Logger: h.logger, SpanPrefix: "api"}
	grouped, err := g.GroupAndEnrich(c.Request.Context(), alerts, tenant.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, grouped)
}

type enrichRequest struct {
	Fingerprint string         `json:"fingerprint" binding:"required"`
	Enrichments map[string]any `json:"enrichments" binding:"required"`
}

// EnrichAlert stores enrichments for a fingerprint directly.
func (h *Handler) EnrichAlert(c *gin.Context) {
	var req enrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(err))
		return
	}

	tenant := tenantFrom(c)
	fp := fingerprint.Truncate(req.Fingerprint)
	if err := h.enrichments.EnrichAlert(c.Request.Context(), tenant.ID, fp, req.Enrichments); err != nil {
		h.metrics.EnrichmentFailed()
		h.fail(c, apperr.New(apperr.CodeStorage, "failed to store enrichments", err))
		return
	}
	h.metrics.EnrichmentStored()

	c.JSON(http.StatusOK, gin.H{"fingerprint": fp, "enrichments": req.Enrichments})
}
