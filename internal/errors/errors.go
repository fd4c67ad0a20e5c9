// Package errors provides the error-wrapping primitives used throughout
// this module, built on top of github.com/pkg/errors the same way
// restic's internal/errors package does.
package errors

import (
	"github.com/pkg/errors"
)

// New, Errorf, Wrap, WithStack and Cause are re-exported from pkg/errors
// so every error constructed anywhere in this module carries a stack
// trace and a consistent wrapping convention.
var (
	New      = errors.New
	Errorf   = errors.Errorf
	Wrap      = errors.Wrap
	Wrapf     = errors.Wrapf
	WithStack = errors.WithStack
	Cause     = errors.Cause
	Is        = errors.Is
	As        = errors.As
	Unwrap    = errors.Unwrap
)

// fatalError marks an error that should terminate a command-line tool
// with a plain message and no stack trace, as opposed to a bug that
// should be reported with full context.
type fatalError struct {
	msg string
}

func (e *fatalError) Error() string { return e.msg }

// Fatal returns an error that IsFatal reports true for.
func Fatal(msg string) error {
	return &fatalError{msg: msg}
}

// Fatalf is like Fatal but with fmt.Sprintf-style formatting.
func Fatalf(format string, args ...interface{}) error {
	return &fatalError{msg: errors.Errorf(format, args...).Error()}
}

// IsFatal tests whether err was constructed via Fatal/Fatalf.
func IsFatal(err error) bool {
	_, ok := err.(*fatalError)
	return ok
}
