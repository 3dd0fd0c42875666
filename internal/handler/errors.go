package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
)

// classify maps a service error onto an HTTP status and envelope code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrConcurrencyViolation):
		return http.StatusConflict, response.ErrConcurrencyViolation
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrExamNotAvailable):
		return http.StatusForbidden, response.ErrExamNotAvailable
	case errors.Is(err, service.ErrAttemptClosed):
		return http.StatusConflict, response.ErrAttemptClosed
	case errors.Is(err, service.ErrResultUnavailable):
		return http.StatusConflict, response.ErrResultUnavailable
	case errors.Is(err, service.ErrSessionExpired):
		return http.StatusUnauthorized, response.ErrSessionExpired
	case errors.Is(err, service.ErrDeviceMismatch):
		return http.StatusForbidden, response.ErrDeviceMismatch
	case errors.Is(err, service.ErrAnswerLocked):
		return http.StatusConflict, response.ErrAnswerLocked
	case errors.Is(err, service.ErrAutoSaveDisabled):
		return http.StatusForbidden, response.ErrAutoSaveDisabled
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failService writes the envelope for a service error. Unexpected errors are
// logged; expected ones are part of normal traffic.
func failService(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)

	var cv *service.ConcurrencyViolationError
	switch {
	case errors.As(err, &cv):
		response.FailWithFields(c, status, code, map[string]string{
			"started_at": cv.StartedAt.UTC().Format(time.RFC3339),
		})
	case code == response.ErrValidation:
		response.FailWithFields(c, status, code, map[string]string{
			"detail": strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": "),
		})
	case code == response.ErrInternal:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, status, code)
	default:
		response.Fail(c, status, code)
	}
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
