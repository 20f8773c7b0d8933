package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ValidationError marks malformed input. Fatal for the target, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TransientServiceError marks an external service failure that is safe to
// retry with backoff. On retry exhaustion the stage degrades instead of
// aborting ingestion.
type TransientServiceError struct {
	Service string
	Cause   error
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("transient failure from %s: %v", e.Service, e.Cause)
}

func (e *TransientServiceError) Unwrap() error { return e.Cause }

func Transient(service string, cause error) error {
	return &TransientServiceError{Service: service, Cause: cause}
}

func IsTransient(err error) bool {
	var t *TransientServiceError
	return errors.As(err, &t)
}

// StructuralViolation marks a graph mutation that would break the hierarchy
// invariant (a broader/narrower cycle). The edge is rejected; the rest of
// the operation still succeeds.
type StructuralViolation struct {
	SrcID     string
	DstID     string
	Predicate string
}

func (e *StructuralViolation) Error() string {
	return fmt.Sprintf("structural violation: edge %s -[%s]-> %s would close a hierarchy cycle", e.SrcID, e.Predicate, e.DstID)
}

func IsStructural(err error) bool {
	var s *StructuralViolation
	return errors.As(err, &s)
}

// GovernanceViolation marks a lifecycle transition attempted without the
// required preconditions or approval. No state change occurs.
type GovernanceViolation struct {
	TargetID string
	Reason   string
}

func (e *GovernanceViolation) Error() string {
	return fmt.Sprintf("governance violation on %s: %s", e.TargetID, e.Reason)
}

func Governance(targetID, reason string) error {
	return &GovernanceViolation{TargetID: targetID, Reason: reason}
}

func IsGovernance(err error) bool {
	var g *GovernanceViolation
	return errors.As(err, &g)
}
