package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/middleware"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
	"github.com/stemsi/exstem-guard/internal/validator"
)

// AttemptHandler serves the student side of an exam attempt. Every route runs
// behind RequireStudentJWT and ResolveDevice.
type AttemptHandler struct {
	attemptService *service.AttemptService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, monitorService *service.MonitorService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		monitorService: monitorService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// caller pulls the student and device resolved by middleware.
func caller(c *gin.Context) (*service.Claims, *model.DeviceSession, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, nil, false
	}
	device := middleware.GetDevice(c)
	if device == nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return nil, nil, false
	}
	return claims, device, true
}

// StartExam godoc
// POST /api/v1/student/exams/:exam_id/start
// Starts, resumes or takes over the attempt from the calling device.
func (h *AttemptHandler) StartExam(c *gin.Context) {
	claims, device, ok := caller(c)
	if !ok {
		return
	}
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	var req model.StartExamRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	result, err := h.attemptService.StartExam(c.Request.Context(), examID, claims.UserID, device, req.Password)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	view := StartView{
		Outcome: string(result.Outcome),
		Message: result.Message,
		Attempt: toAttemptView(result.Attempt),
	}
	if result.Exam != nil {
		view.TimeRemaining = result.Attempt.TimeRemaining(result.Exam.Duration(), time.Now()).Seconds()
	}

	switch result.Outcome {
	case service.OutcomePasswordRequired:
		response.FailWithData(c, http.StatusForbidden, response.ErrPasswordRequired, view)
	case service.OutcomeWrongPassword:
		response.FailWithData(c, http.StatusForbidden, response.ErrWrongPassword, view)
	case service.OutcomeTimeExpired:
		response.FailWithData(c, http.StatusConflict, response.ErrTimeExpired, view)
	case service.OutcomeStarted:
		response.Success(c, http.StatusCreated, view)
	default:
		response.Success(c, http.StatusOK, view)
	}
}

// GetState godoc
// GET /api/v1/student/attempts/:attempt_id/state
// Covers page reloads: status, remaining time and session state.
func (h *AttemptHandler) GetState(c *gin.Context) {
	claims, device, ok := caller(c)
	if !ok {
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	state, err := h.attemptService.GetState(c.Request.Context(), attemptID, claims.UserID, device.DeviceHash)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// TimeRemaining godoc
// GET /api/v1/student/attempts/:attempt_id/time-remaining
func (h *AttemptHandler) TimeRemaining(c *gin.Context) {
	claims, device, ok := caller(c)
	if !ok {
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	left, err := h.attemptService.TimeRemaining(c.Request.Context(), attemptID, claims.UserID, device.DeviceHash)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"time_remaining": left})
}

// Heartbeat godoc
// POST /api/v1/student/attempts/:attempt_id/heartbeat
func (h *AttemptHandler) Heartbeat(c *gin.Context) {
	claims, device, ok := caller(c)
	if !ok {
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	state, err := h.attemptService.Heartbeat(c.Request.Context(), attemptID, claims.UserID, device.DeviceHash)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// ListResponses godoc
// GET /api/v1/student/attempts/:attempt_id/responses?submitted=
func (h *AttemptHandler) ListResponses(c *gin.Context) {
	claims, device, ok := caller(c)
	if !ok {
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	var submitted *bool
	if raw := c.Query("submitted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"submitted": "submitted must be true or false"})
			return
		}
		submitted = &v
	}

	responses, err := h.attemptService.ListResponses(c.Request.Context(), attemptID, claims.UserID, device.DeviceHash, submitted)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"responses": toResponseViews(responses)})
}

// SaveDraft godoc
// PUT /api/v1/student/attempts/:attempt_id/responses/:question_id/draft
func (h *AttemptHandler) SaveDraft(c *gin.Context) {
	h.writeAnswer(c, h.attemptService.SaveDraft)
}

// FinalizeAnswer godoc
// PUT /api/v1/student/attempts/:attempt_id/responses/:question_id/final
func (h *AttemptHandler) FinalizeAnswer(c *gin.Context) {
	h.writeAnswer(c, h.attemptService.FinalizeAnswer)
}

type answerFunc func(ctx context.Context, attemptID, questionID uuid.UUID, studentID int, deviceHash, answer string) (*model.QuestionResponse, error)

func (h *AttemptHandler) writeAnswer(c *gin.Context, write answerFunc) {
	claims, device, ok := caller(c)
	if !ok {
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}
	questionID, ok := parseUUIDParam(c, "question_id")
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := write(c.Request.Context(), attemptID, questionID, claims.UserID, device.DeviceHash, req.Answer)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, toResponseView(resp))
}

// RecordEvent godoc
// POST /api/v1/student/attempts/:attempt_id/events
// Client-side proctoring telemetry (tab switches, fullscreen exits, ...).
func (h *AttemptHandler) RecordEvent(c *gin.Context) {
	claims, device, ok := caller(c)
	if !ok {
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	var req model.RecordEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ev, err := h.monitorService.RecordForStudent(c.Request.Context(), attemptID, claims.UserID, device.DeviceHash, req)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"event_id": ev.ID})
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims, device, ok := caller(c)
	if !ok {
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	summary, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.UserID, device.DeviceHash)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, SubmitView{
		Attempt:    toAttemptView(summary.Attempt),
		Answered:   summary.Answered,
		Unanswered: summary.Unanswered,
	})
}

// GetResult godoc
// GET /api/v1/student/attempts/:attempt_id/result
func (h *AttemptHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	result, err := h.attemptService.GetResult(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
