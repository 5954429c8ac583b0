// internal/common/errors/errors.go

// Package errors provides the standardized error taxonomy for the
// dispatch engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeConfigurationInvalid ErrorCode = "CONFIGURATION_INVALID"
	ErrCodeKeyIntegrityFailed   ErrorCode = "KEY_INTEGRITY_FAILED"
	ErrCodeNoRecipients         ErrorCode = "NO_RECIPIENTS"
	ErrCodeSubscriberNotFound   ErrorCode = "SUBSCRIBER_NOT_FOUND"
	ErrCodeRequestInvalid       ErrorCode = "REQUEST_INVALID"
	ErrCodeRegistryUnavailable  ErrorCode = "REGISTRY_UNAVAILABLE"
	ErrCodeReconcileWriteFailed ErrorCode = "RECONCILE_WRITE_FAILED"
)

// DispatchError represents a structured application error.
type DispatchError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("DispatchError[%s]: %s", e.Code, e.Message)
}

// Is matches DispatchErrors by code so callers can use errors.Is with
// the exported sentinels below.
func (e *DispatchError) Is(target error) bool {
	var t *DispatchError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is matching.
var (
	ErrConfigurationInvalid = &DispatchError{Code: ErrCodeConfigurationInvalid}
	ErrKeyIntegrityFailed   = &DispatchError{Code: ErrCodeKeyIntegrityFailed}
	ErrNoRecipients         = &DispatchError{Code: ErrCodeNoRecipients}
	ErrSubscriberNotFound   = &DispatchError{Code: ErrCodeSubscriberNotFound}
	ErrRequestInvalid       = &DispatchError{Code: ErrCodeRequestInvalid}
	ErrRegistryUnavailable  = &DispatchError{Code: ErrCodeRegistryUnavailable}
)

// NewConfigurationError creates a fatal startup error, such as a
// missing encryption secret. Not recoverable per-request.
func NewConfigurationError(details string) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeConfigurationInvalid,
		Message:   "Invalid service configuration",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewIntegrityError creates the error for a ciphertext whose auth tag
// did not verify. Details carry the subscriber id only, never endpoint
// or key content.
func NewIntegrityError(subscriberID string) *DispatchError {
	details := ""
	if subscriberID != "" {
		details = fmt.Sprintf("subscriberId: %s", subscriberID)
	}
	return &DispatchError{
		Code:      ErrCodeKeyIntegrityFailed,
		Message:   "Stored key material failed integrity check",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoRecipientsError creates the "nothing to send" condition. It is
// not a transport failure and must not surface as a 500.
func NewNoRecipientsError() *DispatchError {
	return &DispatchError{
		Code:      ErrCodeNoRecipients,
		Message:   "No active subscriptions matched the selector",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubscriberNotFoundError creates the error for a single-device send
// whose target is missing or not active.
func NewSubscriberNotFoundError(subscriberID string) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeSubscriberNotFound,
		Message:   "Active device not found",
		Details:   fmt.Sprintf("subscriberId: %s", subscriberID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRequestInvalidError creates a non-retryable request shape error.
func NewRequestInvalidError(details string) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeRequestInvalid,
		Message:   "Invalid notification request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRegistryUnavailableError creates a retryable error for a failed
// subscriber selection query.
func NewRegistryUnavailableError(err error) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeRegistryUnavailable,
		Message:   "Subscriber registry query failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewReconcileWriteError creates the error logged when a post-delivery
// registry write fails. It is swallowed by the reconciler, never
// escalated to the caller.
func NewReconcileWriteError(subscriberID string, err error) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeReconcileWriteFailed,
		Message:   "Failed to update subscriber after delivery",
		Details:   fmt.Sprintf("subscriberId: %s, error: %s", subscriberID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// TransportError is the typed result of a push transport call. The
// permanent/transient decision is made once, inside the transport
// adapter; the engine never re-parses error strings.
type TransportError struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Permanent  bool   `json:"permanent"`
	Message    string `json:"message"`
}

func (e *TransportError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("TransportError[%s, status %d]: %s", kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("TransportError[%s]: %s", kind, e.Message)
}

// AsTransportError unwraps err into a TransportError if possible.
func AsTransportError(err error) (*TransportError, bool) {
	var t *TransportError
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}
