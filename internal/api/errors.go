package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/robot-control/robotd/internal/auto"
	"github.com/robot-control/robotd/internal/hal"
	"github.com/robot-control/robotd/internal/robot"
	"github.com/robot-control/robotd/internal/swerve"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    any
	StatusCode int
}

// API error codes for transport and lookup conditions.
var (
	ErrBadRequest = errors.New("BAD_REQUEST")
	ErrNotFound   = errors.New("NOT_FOUND")
)

type errorMapping struct {
	target  error
	code    string
	status  int
	message string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{ErrBadRequest, "BAD_REQUEST", http.StatusBadRequest, "Malformed or missing required parameter"},
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound, "Resource not found"},
	{robot.ErrUnknownMode, "INVALID_RANGE", http.StatusBadRequest, "Unknown mode"},
	{hal.ErrInvalidRange, "INVALID_RANGE", http.StatusBadRequest, "Parameter value is outside the allowed range"},
	{auto.ErrUnknownRoutine, "NOT_FOUND", http.StatusNotFound, "Unknown autonomous routine"},
	{robot.ErrBusy, "BUSY", http.StatusServiceUnavailable, "Robot is busy, please retry with backoff"},
	{robot.ErrStopped, "UNAVAILABLE", http.StatusServiceUnavailable, "Control loop is not running"},
	{hal.ErrSensorFault, "SENSOR_FAULT", http.StatusServiceUnavailable, "A sensor reported a fault"},
	{hal.ErrDisconnected, "DISCONNECTED", http.StatusServiceUnavailable, "A device is disconnected"},
	{swerve.ErrNotCalibrated, "NOT_CALIBRATED", http.StatusServiceUnavailable, "A module is not calibrated"},
	{context.DeadlineExceeded, "TIMEOUT", http.StatusGatewayTimeout, "Request timed out"},
	{context.Canceled, "CANCELLED", http.StatusServiceUnavailable, "Request cancelled"},
}

// ToAPIError converts an error to an API error with HTTP status code and JSON body.
func ToAPIError(err error) (int, []byte) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, marshalErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			var details any
			var devErr *hal.DeviceError
			if errors.As(err, &devErr) {
				details = devErr.Details
			}
			if details == nil && m.target != ErrNotFound {
				details = map[string]any{"error": err.Error()}
			}
			return m.status, marshalErrorResponse(m.code, m.message, details)
		}
	}

	return http.StatusInternalServerError, marshalErrorResponse("INTERNAL", "Internal server error", map[string]any{
		"original": err.Error(),
	})
}

// marshalErrorResponse creates a JSON error response with correlation ID.
func marshalErrorResponse(code, message string, details any) []byte {
	body, err := json.Marshal(ErrorResponse(code, message, details))
	if err != nil {
		body, _ = json.Marshal(ErrorResponse("INTERNAL", "Failed to marshal error response", nil))
	}
	return body
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details any) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
