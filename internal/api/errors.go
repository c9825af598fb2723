package api

import (
	"errors"
	"net/http"
)

// AppError is an error with a client-facing status and message. Anything
// else reaching HandleError is reported as a bare 500.
type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest          = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized        = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrInternalServer      = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrInvalidCredentials  = &AppError{Code: http.StatusUnauthorized, Message: "invalid credentials"}
	ErrInvalidToken        = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
	ErrAccountInactive     = &AppError{Code: http.StatusForbidden, Message: "account is inactive"}
	ErrAccountSuspended    = &AppError{Code: http.StatusForbidden, Message: "account is suspended"}
	ErrRoleNotAllowed      = &AppError{Code: http.StatusForbidden, Message: "access denied: role not allowed"}
	ErrInsufficientCredits = &AppError{Code: http.StatusPaymentRequired, Message: "insufficient credits"}
)

func newError(code int, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func NewBadRequestError(msg string) *AppError { return newError(http.StatusBadRequest, msg) }
func NewNotFoundError(msg string) *AppError   { return newError(http.StatusNotFound, msg) }
func NewConflictError(msg string) *AppError   { return newError(http.StatusConflict, msg) }
func NewForbiddenError(msg string) *AppError  { return newError(http.StatusForbidden, msg) }

// NewValidationError reports a request body that decoded but failed its
// field constraints.
func NewValidationError(msg string) *AppError { return newError(http.StatusBadRequest, msg) }

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}
	JSONErrorMessage(w, ErrInternalServer.Code, ErrInternalServer.Message)
}
