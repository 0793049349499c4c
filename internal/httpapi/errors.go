package httpapi

import (
	"errors"
	"net/http"

	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/pkg/binder"
	"github.com/gapeva/uplas/pkg/validator"
)

// errorInfo is the transport view of an error.
type errorInfo struct {
	Status  int
	Code    string
	Message string
	Details map[string][]string
}

// classify maps domain and binding errors to a status and a stable code.
// Unrecognised errors become 500 without leaking their text.
func classify(err error) errorInfo {
	if ve := validator.ExtractValidationErrors(err); ve != nil {
		details := make(map[string][]string, len(ve))
		for _, e := range ve {
			details[e.Field] = append(details[e.Field], e.Message)
		}
		return errorInfo{Status: http.StatusBadRequest, Code: "invalid_argument", Message: "validation failed", Details: details}
	}

	switch {
	case errors.Is(err, binder.ErrMissingContentType), errors.Is(err, binder.ErrUnsupportedMediaType):
		return errorInfo{Status: http.StatusUnsupportedMediaType, Code: "unsupported_media_type", Message: err.Error()}
	case errors.Is(err, binder.ErrFailedToParseJSON), errors.Is(err, binder.ErrInvalidQuery), errors.Is(err, binder.ErrInvalidPath):
		return errorInfo{Status: http.StatusBadRequest, Code: "invalid_argument", Message: err.Error()}
	case errors.Is(err, payments.ErrInvalidArgument):
		return errorInfo{Status: http.StatusBadRequest, Code: "invalid_argument", Message: err.Error()}
	case errors.Is(err, payments.ErrUnauthenticated):
		return errorInfo{Status: http.StatusUnauthorized, Code: "unauthenticated", Message: "authentication required"}
	case errors.Is(err, payments.ErrPermissionDenied):
		return errorInfo{Status: http.StatusForbidden, Code: "permission_denied", Message: "permission denied"}
	case errors.Is(err, payments.ErrNotFound):
		return errorInfo{Status: http.StatusNotFound, Code: "not_found", Message: err.Error()}
	case errors.Is(err, payments.ErrConflictingSubscription):
		return errorInfo{Status: http.StatusConflict, Code: "conflicting_subscription", Message: err.Error()}
	case errors.Is(err, payments.ErrIllegalTransition):
		return errorInfo{Status: http.StatusConflict, Code: "illegal_transition", Message: err.Error()}
	case errors.Is(err, payments.ErrConflict):
		return errorInfo{Status: http.StatusConflict, Code: "conflict", Message: err.Error()}
	case errors.Is(err, payments.ErrProviderUnavailable):
		return errorInfo{Status: http.StatusBadGateway, Code: "provider_unavailable", Message: "payment provider unavailable, try again later"}
	default:
		return errorInfo{Status: http.StatusInternalServerError, Code: "internal", Message: "internal server error"}
	}
}
