// Package failure defines the error kinds surfaced by the stylist pipeline.
//
// Intake failures reject an upload before it reaches a workflow. Generation
// failures come back from the remote image model and end up as the
// workflow's last error message.
package failure

import "errors"

// Kind categorizes a pipeline failure.
type Kind int

const (
	// KindIntake indicates a malformed, unreadable, or unsupported upload.
	KindIntake Kind = iota
	// KindGeneration indicates a failed or imageless remote generation call.
	KindGeneration
)

// String returns the kind name used in logs and API responses.
func (k Kind) String() string {
	switch k {
	case KindIntake:
		return "intake_failure"
	case KindGeneration:
		return "generation_failure"
	default:
		return "unknown_failure"
	}
}

// Error is a pipeline failure carrying a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Intake returns an intake failure. err may be nil.
func Intake(message string, err error) *Error {
	return &Error{Kind: KindIntake, Message: message, Err: err}
}

// Generation returns a generation failure. err may be nil.
func Generation(message string, err error) *Error {
	return &Error{Kind: KindGeneration, Message: message, Err: err}
}

// IsKind reports whether any error in err's chain is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
