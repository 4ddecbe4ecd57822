// Package errors provides error handling for the dro step optimizer.
//
// Error annotates a failure with the component and operation it came from.
// The typed errors in kinds.go describe the fatal conditions of a run:
// malformed configuration, a missing checkpoint and a desynchronized remote
// channel. Match them with As.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Error is a failure annotated with where it happened. Stack holds the
// caller frames captured when it was built.
type Error struct {
	Component string
	Operation string
	Message   string
	Err       error
	Stack     []string
}

// Error formats as "component operation: message: cause", leaving out
// empty parts.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if where := strings.TrimSpace(e.Component + " " + e.Operation); where != "" {
		parts = append(parts, where)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation sets the operation, such as "restore" or "evaluate".
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent sets the owning component, such as "checkpoint".
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// Errorf creates an error with a formatted message.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Stack:   callers(3),
	}
}

// Wrap annotates err with msg. A nil err yields nil.
func Wrap(err error, msg string) *Error {
	return wrap(err, msg)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return wrap(err, fmt.Sprintf(format, args...))
}

func wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Err:     err,
		Message: msg,
		Stack:   callers(4),
	}
}

// callers formats the stack starting skip frames above runtime.Callers,
// leaving out runtime frames.
func callers(skip int) []string {
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
