// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for JSON responses and the
// mapping from ledger errors to status codes, so every handler reports
// failures the same way.

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"feeledger/internal/core"
	applog "feeledger/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	payload    any
	headers    map[string]string
}

// errorBody is the envelope of every error response.
type errorBody struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Data sets the value encoded as the response body.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.payload = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.payload == nil || b.statusCode == http.StatusNoContent {
		w.WriteHeader(b.statusCode)
		return
	}

	body, err := json.Marshal(b.payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response","code":"internal"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Data(errorBody{Error: message, Code: code})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "invalid_request", message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, "not_found", message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "internal", message)
}

// ValidationError reports which request fields failed which rule.
func ValidationError(err error) *JSONResponseBuilder {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return BadRequestError(err.Error())
	}
	details := make(map[string]string, len(ve))
	for _, fe := range ve {
		details[fe.Field()] = fe.Tag()
	}
	return NewJSONResponse().
		Status(http.StatusBadRequest).
		Data(errorBody{Error: "request validation failed", Code: "validation", Details: details})
}

// ServiceError maps a fee service error onto a status code. Unknown
// errors become a 500 without leaking their text.
func ServiceError(err error) *JSONResponseBuilder {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		if reqErr.validation != nil {
			return ValidationError(reqErr.validation)
		}
		return BadRequestError(reqErr.Error())
	case core.IsValidation(err):
		return ErrorResponse(http.StatusBadRequest, "validation", err.Error())
	case core.IsNotFound(err):
		return NotFoundError(err.Error())
	case errors.Is(err, core.ErrConfigurationMissing), errors.Is(err, core.ErrNotEnrolled):
		return ErrorResponse(http.StatusUnprocessableEntity, "configuration_missing", err.Error())
	case core.IsConflict(err):
		return ErrorResponse(http.StatusConflict, "conflict", err.Error())
	case core.IsRetryable(err):
		return ErrorResponse(http.StatusServiceUnavailable, "busy", err.Error()).
			Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	default:
		return InternalServerError("internal error")
	}
}

// retryAfterSeconds is the hint sent when the ledger write gate is busy.
const retryAfterSeconds = 1

// writeError logs server-side failures and writes the mapped response.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ServiceError(err)
	if resp.statusCode >= http.StatusInternalServerError {
		sl := applog.NewStructuredLogger(applog.FromContext(r.Context()))
		sl.LogError(r.Context(), "Request failed", err, applog.ComponentHTTP, op, applog.NewFields())
	}
	resp.Write(w)
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Data(v).Write(w)
}
