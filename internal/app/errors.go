package app

import (
	"errors"
	"fmt"
	"net/http"

	"rollcall/internal/archive"
	"rollcall/internal/auth"
	"rollcall/internal/export"
	"rollcall/internal/remote"
	"rollcall/internal/roster"
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

var (
	errArchiveDisabled = domainError(http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "Snapshot archive is not configured", nil)
	errEmptyStage      = domainError(http.StatusUnprocessableEntity, "MALFORMED_INPUT", "No valid rows found in the spreadsheet", nil)
)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var dup *roster.DuplicateError
	if errors.As(err, &dup) {
		return http.StatusConflict, "DUPLICATE_PARTICIPANT", "Participant already exists",
			map[string]any{"name": dup.Name, "entity": dup.Entity}
	}
	var missing *roster.NotFoundError
	if errors.As(err, &missing) {
		return http.StatusNotFound, "PARTICIPANT_NOT_FOUND", "Participant not found", map[string]any{"id": missing.ID}
	}
	var malformed *roster.MalformedInputError
	if errors.As(err, &malformed) {
		return http.StatusUnprocessableEntity, "MALFORMED_INPUT", malformed.Reason, nil
	}

	switch {
	case errors.Is(err, auth.ErrMissingKey), errors.Is(err, auth.ErrInvalidKey):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound, "ARCHIVE_NOT_FOUND", "Archived snapshot not found", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export requires Chrome or Chromium", nil
	case errors.Is(err, remote.ErrRemoteSync):
		var syncErr *remote.RemoteSyncError
		if errors.As(err, &syncErr) {
			return http.StatusServiceUnavailable, "REMOTE_UNAVAILABLE", "Remote store unavailable", map[string]any{"op": syncErr.Op}
		}
		return http.StatusServiceUnavailable, "REMOTE_UNAVAILABLE", "Remote store unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
