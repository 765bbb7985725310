// Package apperrors defines MANTIS's error taxonomy: small sentinel/typed
// errors that callers can branch on with errors.Is/errors.As, following the
// same pattern as the teacher's pkg/services/errors.go.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrShuttingDown is returned (or silently absorbed, per caller) when a
	// write arrives after the owning component's shutdown signal was set.
	ErrShuttingDown = errors.New("component is shutting down")
)

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ClientProtocolError represents malformed input from a connected peer.
// Recovered locally: the emulator logs at debug and closes the session.
type ClientProtocolError struct {
	Service string
	Cause   error
}

func (e *ClientProtocolError) Error() string {
	return fmt.Sprintf("%s: client protocol error: %v", e.Service, e.Cause)
}

func (e *ClientProtocolError) Unwrap() error { return e.Cause }

// NewClientProtocolError wraps cause as a ClientProtocolError for service.
func NewClientProtocolError(service string, cause error) error {
	return &ClientProtocolError{Service: service, Cause: cause}
}

// BindError represents a failure to open a listener. Surfaced to the
// orchestrator, which reports it and continues with remaining services.
type BindError struct {
	Service string
	Addr    string
	Cause   error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s: failed to bind %s: %v", e.Service, e.Addr, e.Cause)
}

func (e *BindError) Unwrap() error { return e.Cause }

// StorageError wraps a storage-layer failure. Read failures surface to HTTP
// callers as 500s; write failures during normal operation are logged; write
// failures after shutdown are silent (ErrShuttingDown instead).
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError wraps cause as a StorageError for op.
func NewStorageError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &StorageError{Op: op, Cause: cause}
}

// ExternalServiceError wraps a geo-API or webhook failure. Downgraded to a
// warning by the caller; never propagated as a hard failure.
type ExternalServiceError struct {
	Service string
	Cause   error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Cause)
}

func (e *ExternalServiceError) Unwrap() error { return e.Cause }

// NewExternalServiceError wraps cause as an ExternalServiceError for service.
func NewExternalServiceError(service string, cause error) error {
	return &ExternalServiceError{Service: service, Cause: cause}
}

// AuthError represents a dashboard token mismatch or absence.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "auth error: " + e.Reason }

// FatalConfigError represents an invalid port or missing required field at
// construction time. Surfaced to the CLI/orchestrator startup path.
type FatalConfigError struct {
	Field  string
	Reason string
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}
