package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Rule codes carried by RuleError.
const (
	CodeExecutionNotInProgress = "EXECUTION_NOT_IN_PROGRESS"
	CodeArrivalInFuture        = "ARRIVAL_IN_FUTURE"
	CodeBerthBeforeArrival     = "BERTH_BEFORE_ARRIVAL"
	CodeLeaveBeforeUnberth     = "LEAVE_BEFORE_UNBERTH"
	CodeTaskCompleted          = "TASK_COMPLETED"
	CodeInvalidTransition      = "INVALID_STATUS_TRANSITION"
	CodeOutsideTimeWindow      = "OUTSIDE_TIME_WINDOW"
	CodeWindowNotElapsed       = "TIME_WINDOW_NOT_ELAPSED"
	CodeInvalidTimeWindow      = "INVALID_TIME_WINDOW"
	CodeWindowInPast           = "TIME_WINDOW_IN_PAST"
	CodeInvalidExecutionCode   = "INVALID_EXECUTION_CODE"
	CodeInvalidTaskCode        = "INVALID_TASK_CODE"
)

// RuleError is a business rule violation. It is client-caused and must not be retried.
type RuleError struct {
	Code   string
	Detail string
}

func (e *RuleError) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func ruleErr(code, format string, args ...any) error {
	return &RuleError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// FailureKind classifies an expected, non-exceptional outcome.
type FailureKind string

const (
	FailureNotFound        FailureKind = "not_found"
	FailureInvalid         FailureKind = "invalid"
	FailureDuplicate       FailureKind = "duplicate"
	FailureBlocked         FailureKind = "blocked"
	FailureVersionConflict FailureKind = "version_conflict"
)

// Failure is an expected absence or validation outcome that callers branch on.
type Failure struct {
	Kind    FailureKind
	Message string
	// Codes lists the blocking conflict codes when Kind is FailureBlocked.
	Codes []string
	// Reports carries the full detector output for blocked revisions.
	Reports []ConflictReport
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if len(f.Codes) > 0 {
		return fmt.Sprintf("%s: %s [%s]", f.Kind, f.Message, strings.Join(f.Codes, ","))
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func NotFound(format string, args ...any) *Failure {
	return &Failure{Kind: FailureNotFound, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...any) *Failure {
	return &Failure{Kind: FailureInvalid, Message: fmt.Sprintf(format, args...)}
}

func Duplicate(format string, args ...any) *Failure {
	return &Failure{Kind: FailureDuplicate, Message: fmt.Sprintf(format, args...)}
}

// IsFailure reports whether err is a Failure of the given kind.
func IsFailure(err error, kind FailureKind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}
