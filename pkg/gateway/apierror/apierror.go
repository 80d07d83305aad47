// Package apierror maps domain errors to HTTP responses.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carevox/carevox/pkg/core"
	"github.com/carevox/carevox/pkg/staff"
)

// Body is the JSON error payload returned by every handler.
type Body struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Entity    string `json:"entity,omitempty"`
	ID        string `json:"id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type Envelope struct {
	Error *Body `json:"error"`
}

// FromError converts any error into the canonical body and status code.
// Unknown errors come back as opaque internal errors.
func FromError(err error, requestID string) (*Body, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Body{
			Kind:      string(core.ErrInternal),
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Body{
			Kind:      string(core.ErrInternal),
			Message:   "request cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return &Body{
			Kind:      string(coreErr.Kind),
			Message:   coreErr.Message,
			Entity:    coreErr.Entity,
			ID:        coreErr.ID,
			RequestID: requestID,
		}, statusFromKind(coreErr.Kind)
	}

	var decodeErr *staff.DecodeError
	if errors.As(err, &decodeErr) && decodeErr != nil {
		return &Body{
			Kind:      string(core.ErrInvalidRequest),
			Message:   decodeErr.Error(),
			RequestID: requestID,
		}, http.StatusBadRequest
	}

	return &Body{
		Kind:      string(core.ErrInternal),
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromKind(k core.ErrorKind) int {
	switch k {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrUnauthorized:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Write encodes the error envelope onto the response.
func Write(w http.ResponseWriter, err error, requestID string) {
	body, status := FromError(err, requestID)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: body})
}
