// This file implements the Builder Pattern for JSON responses and the
// mapping from domain errors to status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"financas/internal/aggregate"
	"financas/internal/core"
	"financas/internal/log"
	"financas/internal/session"
)

// Error codes returned in ErrorBody.Code.
const (
	CodeBadRequest        = "bad_request"
	CodeInvalidInput      = "invalid_input"
	CodeInvalidGoal       = "invalid_goal"
	CodeNoStartingBalance = "no_starting_balance"
	CodeNotFound          = "not_found"
	CodeSessionNotFound   = "session_not_found"
	CodeGoalNotSet        = "goal_not_set"
	CodeUnknownDate       = "unknown_date"
	CodeNoApplicableRate  = "no_applicable_rate"
	CodeMethodNotAllowed  = "method_not_allowed"
	CodeRateLimited       = "rate_limited"
	CodeUnavailable       = "unavailable"
	CodeSourceUnavailable = "source_unavailable"
	CodeInternal          = "internal_error"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
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

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A nil body writes only the status.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	data, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"encoding failed","code":"internal_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{Error: message, Code: code})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, CodeBadRequest, message)
}

// UnprocessableEntityError creates a 422 Unprocessable Entity error response.
func UnprocessableEntityError(code, message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, code, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(code, message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, code, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, CodeInternal, "internal error")
}

// ServiceUnavailableError creates a 503 Service Unavailable error response.
func ServiceUnavailableError(code, message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusServiceUnavailable, code, message)
}

// MethodNotAllowedError creates a 405 Method Not Allowed error response.
func MethodNotAllowedError(allowedMethods string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed").
		Header("Allow", allowedMethods)
}

// TooManyRequestsError creates a 429 response asking the client to retry later.
func TooManyRequestsError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, try again later").
		Header("Retry-After", "60")
}

// parseErrorDetails is the location of a malformed cell.
type parseErrorDetails struct {
	Line   int    `json:"line,omitempty"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
}

// ErrorFor maps a domain error to a response. Unknown errors are logged
// and reported as 500 without their message.
func ErrorFor(r *http.Request, err error) *JSONResponseBuilder {
	var parseErr *core.InputParseError
	var fieldErr *FieldError
	switch {
	case errors.As(err, &parseErr):
		return NewJSONResponse().Status(http.StatusUnprocessableEntity).Body(ErrorBody{
			Error:   parseErr.Error(),
			Code:    CodeInvalidInput,
			Details: parseErrorDetails{Line: parseErr.Line, Column: parseErr.Column, Value: parseErr.Value},
		})
	case errors.As(err, &fieldErr):
		return NewJSONResponse().Status(http.StatusBadRequest).Body(ErrorBody{
			Error:   fieldErr.Error(),
			Code:    CodeBadRequest,
			Details: map[string]string{"field": fieldErr.Field},
		})
	case errors.Is(err, session.ErrNotFound):
		return NotFoundError(CodeSessionNotFound, "session not found or expired")
	case errors.Is(err, session.ErrNoStartingBalance):
		return UnprocessableEntityError(CodeNoStartingBalance, err.Error())
	case errors.Is(err, aggregate.ErrUnknownDate):
		return NotFoundError(CodeUnknownDate, err.Error())
	case errors.Is(err, core.ErrNoApplicableRate):
		return NotFoundError(CodeNoApplicableRate, err.Error())
	case errors.Is(err, core.ErrNegativeAmount), errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrRateOutOfRange):
		return UnprocessableEntityError(CodeInvalidGoal, err.Error())
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Unhandled request error",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path)
		return InternalServerError()
	}
}
