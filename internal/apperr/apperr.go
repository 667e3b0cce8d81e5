// Package apperr defines the error kinds surfaced to HTTP clients and their status codes.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Kind classifies an error for the client.
type Kind string

// Error kinds returned in the "error" field of the envelope.
const (
	Unauthenticated        Kind = "unauthenticated"
	Unauthorized           Kind = "unauthorized"
	AuthBackendUnavailable Kind = "auth_backend_unavailable"
	InvalidRequest         Kind = "invalid_request"
	EngineTimeout          Kind = "engine_timeout"
	EngineError            Kind = "engine_error"
	InvalidTarget          Kind = "invalid_target"
	Internal               Kind = "internal"
)

// Status maps a kind onto its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Unauthorized:
		return http.StatusForbidden
	case AuthBackendUnavailable:
		return http.StatusServiceUnavailable
	case InvalidRequest:
		return http.StatusUnprocessableEntity
	case EngineTimeout:
		return http.StatusGatewayTimeout
	case EngineError, InvalidTarget:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a client-facing kind and message plus an optional internal cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New builds an Error without an underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an Error around cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// Envelope is the JSON body of every error response.
type Envelope struct {
	Error   Kind   `json:"error"`
	Message string `json:"message"`
}

// EnvelopeFor converts err into its client-facing form. Errors without a kind
// get a generic message so internal detail never reaches the client.
func EnvelopeFor(err error) Envelope {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != Internal {
		return Envelope{Error: ae.Kind, Message: ae.Message}
	}
	return Envelope{Error: Internal, Message: "internal server error"}
}

// Write renders err as a JSON envelope with its mapped status.
// Internal errors are logged with their full cause.
func Write(w http.ResponseWriter, logger *zap.Logger, err error) {
	env := EnvelopeFor(err)
	status := env.Error.Status()
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Warn("request failed", zap.String("kind", string(env.Error)), zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(env); encErr != nil && logger != nil {
		logger.Error("write error envelope failed", zap.Error(encErr))
	}
}
