package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
	"github.com/stemsi/exstem-guard/internal/validator"
)

// WebhookHandler accepts events from the external proctoring producer.
// Signatures are checked by middleware.RequireWebhookSignature.
type WebhookHandler struct {
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(monitorService *service.MonitorService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		monitorService: monitorService,
		log:            log.With().Str("component", "webhook_handler").Logger(),
	}
}

// Proctoring godoc
// POST /api/v1/webhooks/proctoring
func (h *WebhookHandler) Proctoring(c *gin.Context) {
	var req model.ProctoringWebhookRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ev, err := h.monitorService.Record(c.Request.Context(), req.AttemptID, req.EventType, req.Severity, req.Evidence)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"event_id": ev.ID})
}
