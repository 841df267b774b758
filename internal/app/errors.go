package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"prdigy/api/internal/access"
	"prdigy/api/internal/auth"
	"prdigy/api/internal/authpw"
	"prdigy/api/internal/migration"
	"prdigy/api/internal/roadmap"
	"prdigy/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden(action string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"action": action})
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *roadmap.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), map[string]any{"field": validationErr.Field}
	}

	switch {
	case errors.Is(err, access.ErrShareNotFound):
		return http.StatusNotFound, "SHARE_NOT_FOUND", "Share link not found", nil
	case errors.Is(err, access.ErrShareExpired):
		return http.StatusGone, "SHARE_EXPIRED", "Share link expired", nil
	case errors.Is(err, access.ErrLinkRoleCeiling):
		return http.StatusUnprocessableEntity, "LINK_ROLE_CEILING", "Public links grant viewer or commenter only", nil
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, roadmap.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, roadmap.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Conflicting write", nil
	case errors.Is(err, migration.ErrNoGuest):
		return http.StatusConflict, "NO_GUEST", "No guest identity on this device", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrInvalidEmail), errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil
	case errors.Is(err, authpw.ErrInvalidToken):
		return http.StatusBadRequest, "INVALID_TOKEN", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
