package helper

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Failure taxonomy of the payment pipeline. Callers match with errors.Is.
var (
	ErrAuthenticationFailure = errors.New("authentication_failure")
	ErrLockContention        = errors.New("lock_contention")
	ErrAlreadyProcessed      = errors.New("already_processed")
	ErrIllegalTransition     = errors.New("illegal_transition")
	ErrTransientInfra        = errors.New("transient_infra")
	ErrDependencyUnavailable = errors.New("dependency_unavailable")
	ErrPermanentFailure      = errors.New("permanent_failure")
	ErrNotFound              = errors.New("not_found")
	ErrInsufficientSeats     = errors.New("insufficient_seats")
	ErrVersionConflict       = errors.New("row_version_conflict")
)

// AppError carries an HTTP status and a stable code from services to controllers.
type AppError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(status int, code, message string, err error) *AppError {
	return &AppError{StatusCode: status, Code: code, Message: message, Err: err}
}

// HandleAppError writes an AppError (or any error) in the standard error shape.
func HandleAppError(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return JsonErrorCode(c, appErr.StatusCode, appErr.Code, appErr.Message)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return JsonError(c, fe.Code, fe.Message)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return JsonError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrAuthenticationFailure):
		return JsonError(c, fiber.StatusUnauthorized, "invalid signature")
	case errors.Is(err, ErrDependencyUnavailable):
		return JsonErrorCode(c, fiber.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", err.Error())
	case errors.Is(err, ErrInsufficientSeats):
		return JsonErrorCode(c, fiber.StatusConflict, "INSUFFICIENT_SEATS", err.Error())
	}
	return JsonError(c, fiber.StatusInternalServerError, "internal error")
}
