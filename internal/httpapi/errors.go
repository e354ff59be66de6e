package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"vyapaar/internal/notify"
	"vyapaar/internal/pipeline"
	"vyapaar/internal/storage"
)

// APIError is the JSON error body of the /users routes.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func newAPIError(status int, code, message string, details any) *APIError {
	return &APIError{StatusCode: status, ErrorCode: code, Message: message, Details: details}
}

func invalidRequest(err error) *APIError {
	return newAPIError(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

func validationFailed(fields []ValidationError) *APIError {
	return newAPIError(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", fields)
}

func notFound(resource string) *APIError {
	return newAPIError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource), resource)
}

// errorFor maps service errors onto API errors.
func errorFor(err error) *APIError {
	var apiErr *APIError
	var schemaErr *pipeline.SchemaResolutionError
	var sendErr *notify.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &sendErr):
		return newAPIError(http.StatusBadGateway, "NOTIFY_FAILED", "WhatsApp delivery failed", sendErr.Error())
	case errors.As(err, &schemaErr):
		return newAPIError(http.StatusUnprocessableEntity, "SCHEMA_RESOLUTION_FAILED", schemaErr.Error(),
			map[string]any{"missing": schemaErr.Missing})
	case errors.Is(err, storage.ErrUserNotFound):
		return notFound("user")
	case errors.Is(err, storage.ErrSnapshotNotFound):
		return notFound("snapshot")
	case errors.Is(err, storage.ErrInvalidPhone), errors.Is(err, storage.ErrInvalidSnapshotName):
		return newAPIError(http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), nil)
	case errors.Is(err, pipeline.ErrNoTable):
		return newAPIError(http.StatusUnprocessableEntity, "NO_TABLE", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error", err.Error())
	}
}
