package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for broad classification.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrDegenerateInput = errors.New("degenerate input")
	ErrResource        = errors.New("resource error")
)

// ErrorKind is a coarse-grained categorization for stage failures.
type ErrorKind string

const (
	KindConfiguration   ErrorKind = "configuration"
	KindDegenerateInput ErrorKind = "degenerate_input"
	KindResource        ErrorKind = "resource"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindDegenerateInput:
		return ErrDegenerateInput
	case KindResource:
		return ErrResource
	}
	return nil
}

// StageError reports which pipeline stage failed and which precondition was
// violated.
type StageError struct {
	Stage        string
	Kind         ErrorKind
	Precondition string
	Err          error
}

func (e *StageError) Error() string {
	if e == nil {
		return "<nil>"
	}

	base := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Precondition != "" {
		base += fmt.Sprintf(" (%s)", e.Precondition)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match a StageError against the sentinel of its kind.
func (e *StageError) Is(target error) bool {
	return e != nil && target != nil && e.Kind.sentinel() == target
}

// NewStageError builds a StageError; format and args describe the cause.
func NewStageError(stage string, kind ErrorKind, precondition string, format string, args ...any) *StageError {
	return &StageError{
		Stage:        stage,
		Kind:         kind,
		Precondition: precondition,
		Err:          fmt.Errorf(format, args...),
	}
}

// IsKind helps callers classify errors without inspecting messages.
func IsKind(err error, kind ErrorKind) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
