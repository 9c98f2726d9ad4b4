package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden            ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest           ErrorCode = "BAD_REQUEST"
	ErrCodeConflict             ErrorCode = "CONFLICT"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidState         ErrorCode = "INVALID_STATE"
	ErrCodeContentRejected      ErrorCode = "CONTENT_REJECTED"
	ErrCodePayoutAccountMissing ErrorCode = "PAYOUT_ACCOUNT_MISSING"
	ErrCodeConservation         ErrorCode = "CONSERVATION_VIOLATION"
	ErrCodeProviderFailure      ErrorCode = "PROVIDER_FAILURE"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeInvalidState:
		return http.StatusConflict
	case ErrCodeContentRejected, ErrCodePayoutAccountMissing, ErrCodeConservation:
		return http.StatusUnprocessableEntity
	case ErrCodeProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки, если это AppError.
func CodeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeForbidden
}

func IsInvalidState(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeInvalidState
}

func IsValidation(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeValidation
}

var (
	ErrProjectNotFound      = New(ErrCodeNotFound, "проект не найден")
	ErrMilestoneNotFound    = New(ErrCodeNotFound, "веха не найдена")
	ErrDisputeNotFound      = New(ErrCodeNotFound, "спор не найден")
	ErrTransactionNotFound  = New(ErrCodeNotFound, "транзакция не найдена")
	ErrUserNotFound         = New(ErrCodeNotFound, "пользователь не найден")
	ErrUnauthorized         = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden            = New(ErrCodeForbidden, "недостаточно прав")
	ErrInvalidCredentials   = New(ErrCodeUnauthorized, "неверные учетные данные")
	ErrPayoutAccountMissing = New(ErrCodePayoutAccountMissing, "у фрилансера не указан счёт для выплат")
)
