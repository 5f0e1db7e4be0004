package app

import (
	"fmt"
	"net/http"
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

// errConsentRequired carries the missing (type, version) pairs so the caller
// can obtain consent and retry the original action.
func errConsentRequired(missing any) *DomainError {
	return domainError(http.StatusPreconditionRequired, "CONSENT_REQUIRED", "Consent required before this action", map[string]any{"missing": missing})
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

// errGone means the share exists but is revoked or expired. Terminal for the
// token; the caller must obtain a new share.
func errGone(message string) *DomainError {
	return domainError(http.StatusGone, "GONE", message, nil)
}

func errInvalidCode() *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_CODE", "Invalid access code or recipient name", nil)
}

func errTooManyAttempts() *DomainError {
	return domainError(http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many failed code attempts, try again later", nil)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}
