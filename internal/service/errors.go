package service

import (
	"errors"
	"fmt"
	"time"
)

// Service-level errors. Handlers map them to response codes.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrExamNotAvailable  = errors.New("exam is not available at this time")
	ErrAttemptClosed     = errors.New("attempt is not in progress")
	ErrResultUnavailable = errors.New("attempt has no result yet")
	ErrSessionExpired    = errors.New("exam session expired, start the exam again to continue")
	ErrDeviceMismatch    = errors.New("attempt is bound to another device")
	ErrAnswerLocked      = errors.New("answer already submitted")
	ErrAutoSaveDisabled  = errors.New("auto-save is disabled for this exam")

	// ErrConcurrencyViolation matches every *ConcurrencyViolationError.
	ErrConcurrencyViolation = errors.New("exam already in progress on another device")
)

// ConcurrencyViolationError is returned when another device holds the
// active session for the same (student, exam).
type ConcurrencyViolationError struct {
	StartedAt time.Time
}

func (e *ConcurrencyViolationError) Error() string {
	return fmt.Sprintf("exam already in progress on another device since %s",
		e.StartedAt.Format(time.RFC3339))
}

func (e *ConcurrencyViolationError) Is(target error) bool {
	return target == ErrConcurrencyViolation
}

func validationError(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
