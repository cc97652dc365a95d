package qnsolve

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures a solve can report
type ErrorKind int

const (
	// InputData marks malformed or out-of-domain values
	InputData ErrorKind = iota + 1

	// UnsupportedModel marks an algorithm that cannot handle the model's shape
	UnsupportedModel

	// Solver marks an internal numerical failure
	Solver
)

func (ek ErrorKind) String() string {
	switch ek {
	case InputData:
		return "input data"
	case UnsupportedModel:
		return "unsupported model"
	case Solver:
		return "solver"
	}
	return "unknown"
}

// sentinels matched by errors.Is against any *SolveError of the same kind
var (
	ErrInputData        = &SolveError{Kind: InputData}
	ErrUnsupportedModel = &SolveError{Kind: UnsupportedModel}
	ErrSolver           = &SolveError{Kind: Solver}
)

// SolveError carries the kind of failure, a human-readable reason, the what-if
// step at which it occurred (-1 outside a sweep), and an optional cause
type SolveError struct {
	Kind   ErrorKind
	Reason string
	Step   int
	Cause  error
}

func (se *SolveError) Error() string {
	msg := se.Kind.String() + " error"
	if se.Step >= 0 && se.Reason != "" {
		msg = fmt.Sprintf("%s at step %d", msg, se.Step)
	}
	if se.Reason != "" {
		msg += ": " + se.Reason
	}
	if se.Cause != nil {
		msg += ": " + se.Cause.Error()
	}
	return msg
}

func (se *SolveError) Unwrap() error {
	return se.Cause
}

// Is matches on kind so that errors.Is(err, ErrInputData) holds for every input data error
func (se *SolveError) Is(target error) bool {
	var other *SolveError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == se.Kind && other.Reason == ""
}

func inputDataErr(format string, args ...any) *SolveError {
	return &SolveError{Kind: InputData, Reason: fmt.Sprintf(format, args...), Step: -1}
}

func unsupportedErr(format string, args ...any) *SolveError {
	return &SolveError{Kind: UnsupportedModel, Reason: fmt.Sprintf(format, args...), Step: -1}
}

func solverErr(cause error, format string, args ...any) *SolveError {
	return &SolveError{Kind: Solver, Reason: fmt.Sprintf(format, args...), Step: -1, Cause: cause}
}

// atStep returns err tagged with the what-if step at which it occurred.
// Errors that are not a *SolveError are wrapped as solver errors.
func atStep(err error, step int) error {
	var se *SolveError
	if errors.As(err, &se) {
		cp := *se
		cp.Step = step
		return &cp
	}
	return &SolveError{Kind: Solver, Reason: "unexpected failure", Step: step, Cause: err}
}

// isKind reports whether err carries a *SolveError of the given kind
func isKind(err error, kind ErrorKind) bool {
	var se *SolveError
	return errors.As(err, &se) && se.Kind == kind
}
