package assert

import (
	"errors"
	"fmt"
)

// The error surface is deliberately coarse: exactly two categories are
// distinguishable by callers. DeniedError carries a structured reason for
// server-side logging; FaultError wraps any lower-level failure. Either
// way the HTTP caller only ever sees a generic 403.

// DenyReason classifies a structured denial.
type DenyReason string

const (
	DenyMissingClaims      DenyReason = "missing-claims"
	DenyClaimMismatch      DenyReason = "claim-mismatch"
	DenyAudienceRejected   DenyReason = "audience-rejected"
	DenyAudienceRequired   DenyReason = "audience-required"
	DenyExpired            DenyReason = "token-expired"
	DenyNotYetValid        DenyReason = "token-not-yet-valid"
	DenyUnknownPrincipal   DenyReason = "unknown-principal"
	DenyAmbiguousPrincipal DenyReason = "ambiguous-principal"
)

// DeniedError reports a policy violation found in an otherwise readable
// credential. The detail is for logs, never for response bodies.
type DeniedError struct {
	Reason DenyReason
	Detail string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("assert: denied (%s): %s", e.Reason, e.Detail)
}

// Denied builds a DeniedError with a formatted detail.
func Denied(reason DenyReason, format string, args ...any) error {
	return &DeniedError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// FaultError wraps an underlying failure (SQL, I/O, key resolution,
// signature verification). Callers must not assume finer discrimination
// than "token invalid".
type FaultError struct {
	cause error
}

func (e *FaultError) Error() string { return "assert: " + e.cause.Error() }
func (e *FaultError) Unwrap() error { return e.cause }

// Fault wraps err into the fault category. A nil err yields nil; an
// already-classified error passes through unchanged.
func Fault(err error) error {
	if err == nil {
		return nil
	}
	var denied *DeniedError
	var fault *FaultError
	if errors.As(err, &denied) || errors.As(err, &fault) {
		return err
	}
	return &FaultError{cause: err}
}

// Faultf wraps a formatted error into the fault category.
func Faultf(format string, args ...any) error {
	return &FaultError{cause: fmt.Errorf(format, args...)}
}

// ReasonOf extracts the structured denial reason, or "" for faults and
// foreign errors.
func ReasonOf(err error) DenyReason {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Reason
	}
	return ""
}
