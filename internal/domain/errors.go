package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBadSignature     = errors.New("bad signature")
	ErrStaleTimestamp   = errors.New("stale timestamp")
	ErrMalformedHeader  = errors.New("malformed signature header")
	ErrMalformedPayload = errors.New("malformed event payload")

	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSchemaConflict     = errors.New("schema conflict")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrValidationFailed   = errors.New("validation failed")

	ErrNotFound          = errors.New("not found")
	ErrUnsupportedSchema = errors.New("unsupported metadata schema version")
)

// VerificationError is returned when an inbound webhook cannot be trusted.
// Kind is one of ErrBadSignature, ErrStaleTimestamp, ErrMalformedHeader or
// ErrMalformedPayload.
type VerificationError struct {
	Kind  error
	Cause error
}

func (e *VerificationError) Error() string {
	if e.Cause == nil {
		return "verify webhook: " + e.Kind.Error()
	}
	return fmt.Sprintf("verify webhook: %v: %v", e.Kind, e.Cause)
}

func (e *VerificationError) Unwrap() []error {
	return unwrapPair(e.Kind, e.Cause)
}

// ProvisionError reports the provisioning step that failed and why.
type ProvisionError struct {
	Step  string
	Kind  error
	Cause error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %v: %v", e.Step, e.Kind, e.Cause)
}

func (e *ProvisionError) Unwrap() []error {
	return unwrapPair(e.Kind, e.Cause)
}

// WriteError is returned for order writes that did not persist. A duplicate
// payment reference is never a WriteError.
type WriteError struct {
	Kind  error
	Cause error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write order: %v: %v", e.Kind, e.Cause)
}

func (e *WriteError) Unwrap() []error {
	return unwrapPair(e.Kind, e.Cause)
}

func unwrapPair(kind, cause error) []error {
	if cause == nil {
		return []error{kind}
	}
	return []error{kind, cause}
}

// Classify maps a backend error onto one of the failure kinds shared by
// provisioning and order writes. Unknown errors are treated as the backend
// being unavailable so callers retry from the top.
func Classify(err error) error {
	for _, kind := range []error{
		ErrPermissionDenied,
		ErrQuotaExceeded,
		ErrValidationFailed,
		ErrSchemaConflict,
		ErrBackendUnavailable,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrBackendUnavailable
}
