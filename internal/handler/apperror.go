package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}
	ErrInvalidSignature = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Request signature is invalid"}

	ErrAccountNotFound = &AppError{http.StatusUnprocessableEntity, "ACCOUNT_NOT_FOUND", "Account not found"}
	ErrFamilyNotFound  = &AppError{http.StatusNotFound, "FAMILY_NOT_FOUND", "Family not found"}
	ErrInvalidCurrency = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid currency"}
	ErrTypeCollision   = &AppError{http.StatusConflict, "TYPE_COLLISION", "External id already used by a different record kind"}
	ErrMissingKey      = &AppError{http.StatusBadRequest, "MISSING_CORRELATION", "external_id and source are required"}
)
