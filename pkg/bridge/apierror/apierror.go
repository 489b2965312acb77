// Package apierror maps bridge error taxonomy onto HTTP responses.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

type ErrorType string

const (
	ErrInvalidRequest    ErrorType = "invalid_request"
	ErrAgentNotFound     ErrorType = "agent_not_found"
	ErrSessionNotFound   ErrorType = "session_not_found"
	ErrVendorAuth        ErrorType = "vendor_auth_error"
	ErrVendorUnavailable ErrorType = "vendor_unavailable"
	ErrInternal          ErrorType = "internal"
)

// Error is the canonical error shape of the HTTP surface.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Type) + ": " + e.Message
}

type Envelope struct {
	Error *Error `json:"error"`
}

// FromError normalizes err to a wire error plus an HTTP status. Unknown
// errors are reported as internal without leaking detail.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: ErrInternal, Message: "request timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Type: ErrInternal, Message: "request cancelled", RequestID: requestID}, http.StatusRequestTimeout
	}

	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusFromType(out.Type)
	}

	return &Error{Type: ErrInternal, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

func StatusFromType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAgentNotFound, ErrSessionNotFound:
		return http.StatusNotFound
	case ErrVendorAuth, ErrVendorUnavailable:
		// Vendor-side startup/connection failures surface as 500 to callers.
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON emits the envelope with the status derived from err.
func WriteJSON(w http.ResponseWriter, err error, requestID string) {
	apiErr, status := FromError(err, requestID)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: apiErr})
}
