package app

import (
	"errors"
	"fmt"
	"net/http"

	"roomhistory/internal/auth"
	"roomhistory/internal/history"
	"roomhistory/internal/snapshot"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	switch {
	case errors.Is(err, history.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT", errorDetail(err), nil
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Version not found", nil
	case errors.Is(err, snapshot.ErrSchemaVersionUnsupported):
		return http.StatusUnprocessableEntity, "SCHEMA_VERSION_UNSUPPORTED", "Snapshot schema version is not supported", nil
	case errors.Is(err, history.ErrContentMismatch):
		return http.StatusInternalServerError, "CONTENT_MISMATCH", "Stored snapshot does not match its content hash", nil
	case errors.Is(err, history.ErrCodecFailure):
		return http.StatusInternalServerError, "CODEC_FAILURE", "Snapshot could not be encoded or decoded", nil
	case errors.Is(err, history.ErrStoreFailure):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Version storage is unavailable", nil
	case errors.Is(err, history.ErrPruneFailure):
		return http.StatusInternalServerError, "PRUNE_FAILURE", "Pruning did not complete", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func errorDetail(err error) string {
	var herr *history.Error
	if errors.As(err, &herr) && herr.Err != nil {
		return herr.Err.Error()
	}
	return err.Error()
}
