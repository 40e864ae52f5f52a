package contract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/agentgate/internal/model"
)

// Error kinds. Callers branch on the kind, never on message text.
const (
	KindValidation  = "ValidationError"
	KindExpired     = "ExpiredError"
	KindMonitorMode = "MonitorModeError"
	KindVerdict     = "VerdictError"
	KindGate        = "GateError"
	KindClockSkew   = "ClockSkewError"
	KindInvariant   = "InvariantError"
	KindSignature   = "SignatureError"
	KindExecutor    = "ExecutorError"
)

// FieldIssue is one structural problem at a field path.
type FieldIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (f FieldIssue) String() string {
	return f.Path + ": " + f.Message
}

// ValidationError is returned by Build when required fields are missing
// or out of range. It is recoverable: fix the input and rebuild.
type ValidationError struct {
	Object string
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return fmt.Sprintf("invalid %s: %s", e.Object, strings.Join(parts, "; "))
}

// ExpiredError is returned when an envelope is used past valid_until.
type ExpiredError struct {
	DecisionID string
	ValidUntil time.Time
	Now        time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("decision %s expired at %s", e.DecisionID, e.ValidUntil.Format(time.RFC3339))
}

// MonitorModeError is returned when an advisory decision is executed.
type MonitorModeError struct {
	DecisionID string
}

func (e *MonitorModeError) Error() string {
	return fmt.Sprintf("decision %s is in monitor mode: execution not permitted", e.DecisionID)
}

// VerdictError is returned when the verdict is anything but ALLOW.
type VerdictError struct {
	DecisionID string
	Verdict    model.Verdict
}

func (e *VerdictError) Error() string {
	return fmt.Sprintf("decision %s verdict is %s, not ALLOW", e.DecisionID, e.Verdict)
}

// GateError lists the gates that failed or were skipped without authorization.
type GateError struct {
	Failed []string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("gates not passed: %s", strings.Join(e.Failed, ", "))
}

// ClockSkewError is returned when a timestamp drifts too far from local time.
type ClockSkewError struct {
	Skew    time.Duration
	MaxSkew time.Duration
}

func (e *ClockSkewError) Error() string {
	return fmt.Sprintf("clock skew %s exceeds maximum %s", e.Skew, e.MaxSkew)
}

// InvariantError signals an integration bug: a broken envelope/receipt link
// or required gates that were never checked.
type InvariantError struct {
	Invariant string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated: %s: %s", e.Invariant, e.Detail)
}

// SignatureError is a security event: never retry on it.
type SignatureError struct {
	Object string
	ID     string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s %s: signature mismatch", e.Object, e.ID)
}

// ExecutorError wraps a failure (or panic) from the caller-supplied function.
type ExecutorError struct {
	Err error
}

func (e *ExecutorError) Error() string {
	return "executor failed: " + e.Err.Error()
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// Kind returns the taxonomy name for err, or "" when err is nil.
// Unrecognized errors are reported as ExecutorError.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var (
		ve  *ValidationError
		ee  *ExpiredError
		me  *MonitorModeError
		vde *VerdictError
		ge  *GateError
		ce  *ClockSkewError
		ie  *InvariantError
		se  *SignatureError
		xe  *ExecutorError
	)
	switch {
	case errors.As(err, &xe):
		return KindExecutor
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ee):
		return KindExpired
	case errors.As(err, &me):
		return KindMonitorMode
	case errors.As(err, &vde):
		return KindVerdict
	case errors.As(err, &ge):
		return KindGate
	case errors.As(err, &ce):
		return KindClockSkew
	case errors.As(err, &ie):
		return KindInvariant
	case errors.As(err, &se):
		return KindSignature
	default:
		return KindExecutor
	}
}
