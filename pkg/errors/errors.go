// Package errors provides error wrapping utilities for context-aware error messages
// and the error kinds the activation and fulfillment workflows report.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error kinds. Match them with Is.
var (
	ErrUsage            = stderrors.New("usage error")
	ErrArtifactNotFound = stderrors.New("artifact not found")
	ErrPrecondition     = stderrors.New("precondition failed")
	ErrCollaborator     = stderrors.New("drm processor error")
	ErrFilesystem       = stderrors.New("filesystem error")
)

// Error carries a kind, a human readable message and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.Error()
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool { return e.Kind == target }

func (e *Error) Unwrap() error { return e.Err }

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Usagef returns an ErrUsage error.
func Usagef(format string, args ...any) error {
	return &Error{Kind: ErrUsage, Msg: fmt.Sprintf(format, args...)}
}

// Preconditionf returns an ErrPrecondition error.
func Preconditionf(format string, args ...any) error {
	return &Error{Kind: ErrPrecondition, Msg: fmt.Sprintf(format, args...)}
}

// Collaborator marks err as a failure reported by the DRM processor. The
// processor's message is kept verbatim.
func Collaborator(err error) error {
	if err == nil {
		return nil
	}
	if Is(err, ErrCollaborator) {
		return err
	}
	return &Error{Kind: ErrCollaborator, Err: err}
}

// Filesystem marks err as a directory creation or rename failure.
func Filesystem(err error, context string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrFilesystem, Msg: context, Err: err}
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is errors.As from the standard library.
func As(err error, target any) bool { return stderrors.As(err, target) }
