package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/middleware"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
	"github.com/stemsi/exstem-guard/internal/validator"
)

// StaffHandler serves proctor/staff operations on attempts and the
// monitoring feed.
type StaffHandler struct {
	attemptService *service.AttemptService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewStaffHandler creates a new StaffHandler.
func NewStaffHandler(attemptService *service.AttemptService, monitorService *service.MonitorService, log zerolog.Logger) *StaffHandler {
	return &StaffHandler{
		attemptService: attemptService,
		monitorService: monitorService,
		log:            log.With().Str("component", "staff_handler").Logger(),
	}
}

// listEventsQuery is the query string of the event listing.
type listEventsQuery struct {
	ExamID         string `form:"exam_id" binding:"omitempty,uuid"`
	AttemptID      string `form:"attempt_id" binding:"omitempty,uuid"`
	ReviewedStatus string `form:"reviewed_status" binding:"omitempty,oneof=PENDING REVIEWING APPROVED VIOLATION FALSE_ALARM"`
	EventType      string `form:"event_type" binding:"omitempty,event_type"`
	NeedsAttention bool   `form:"needs_attention"`
	Page           int    `form:"page" binding:"omitempty,min=1"`
	PerPage        int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}

func (q listEventsQuery) filter() model.EventFilter {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = 20
	}
	f := model.EventFilter{
		ReviewedStatus: model.ReviewStatus(q.ReviewedStatus),
		EventType:      model.EventType(q.EventType),
		NeedsAttention: q.NeedsAttention,
		Limit:          q.PerPage,
		Offset:         (q.Page - 1) * q.PerPage,
	}
	if id, err := uuid.Parse(q.ExamID); err == nil {
		f.ExamID = &id
	}
	if id, err := uuid.Parse(q.AttemptID); err == nil {
		f.AttemptID = &id
	}
	return f
}

// ListEvents godoc
// GET /api/v1/staff/monitoring/events
func (h *StaffHandler) ListEvents(c *gin.Context) {
	var q listEventsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	f := q.filter()

	events, total, err := h.monitorService.List(c.Request.Context(), f)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	if events == nil {
		events = []model.MonitoringEvent{}
	}

	page := f.Offset/f.Limit + 1
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"events": events}, response.NewPagination(page, f.Limit, total))
}

// GetEvent godoc
// GET /api/v1/staff/monitoring/events/:id
func (h *StaffHandler) GetEvent(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	ev, err := h.monitorService.Get(c.Request.Context(), id)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, ev)
}

// AssignEvent godoc
// POST /api/v1/staff/monitoring/events/:id/assign
func (h *StaffHandler) AssignEvent(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	ev, err := h.monitorService.AssignForReview(c.Request.Context(), id, claims.UserID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, ev)
}

// ReviewEvent godoc
// POST /api/v1/staff/monitoring/events/:id/review
func (h *StaffHandler) ReviewEvent(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.ReviewEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ev, err := h.monitorService.CompleteReview(c.Request.Context(), id, claims.UserID, req)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, ev)
}

// TerminateAttempt godoc
// POST /api/v1/staff/attempts/:attempt_id/terminate
// Idempotent: terminating a finished attempt returns it unchanged.
func (h *StaffHandler) TerminateAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	var req model.TerminateAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.TerminateSession(c.Request.Context(), attemptID, req.Reason)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	h.log.Info().Int("staff_id", claims.UserID).Str("attempt_id", attemptID.String()).Msg("Terminate requested")
	response.Success(c, http.StatusOK, attempt)
}

// FlagAttempt godoc
// POST /api/v1/staff/attempts/:attempt_id/flag
func (h *StaffHandler) FlagAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	var req model.FlagAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ev, err := h.monitorService.Flag(c.Request.Context(), attemptID, claims.UserID, req)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, ev)
}

// GradeResponse godoc
// PUT /api/v1/staff/attempts/:attempt_id/responses/:question_id/points
func (h *StaffHandler) GradeResponse(c *gin.Context) {
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}
	questionID, ok := parseUUIDParam(c, "question_id")
	if !ok {
		return
	}

	var req model.GradeResponseRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.attemptService.RecordGrade(c.Request.Context(), attemptID, questionID, *req.Points)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

// ConcurrencyReport godoc
// GET /api/v1/staff/exams/:exam_id/concurrency-report
func (h *StaffHandler) ConcurrencyReport(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	report, err := h.monitorService.ConcurrencyReport(c.Request.Context(), examID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}
