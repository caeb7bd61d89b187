// Package dafserr defines the error taxonomy shared by every DAFS component.
// Callers should use errors.Is/As against the Kind sentinels rather than
// matching on message text.
package dafserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into a small, stable set of categories so callers
// (CLI, P2P protocol handlers, tests) can react programmatically.
type Kind string

const (
	NotFound             Kind = "not_found"
	AccessDenied         Kind = "access_denied"
	BadRequest           Kind = "bad_request"
	BadCiphertext        Kind = "bad_ciphertext"
	Unauthenticated      Kind = "unauthenticated"
	Conflict             Kind = "conflict"
	Timeout              Kind = "timeout"
	NumericalInstability Kind = "numerical_instability"
	ModelValidation      Kind = "model_validation"
	Storage              Kind = "storage"
	Network              Kind = "network"
	Internal             Kind = "internal"
)

// Error wraps an underlying cause with a Kind and the component/operation
// that produced it, following the "pkg: op: %w" convention used throughout
// this codebase.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, dafserr.ErrNotFound) work by comparing Kind values
// against a bare *Error{Kind: k} target.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// New creates a new *Error with no underlying cause.
func New(kind Kind, component, op string) error {
	return &Error{Kind: kind, Component: component, Op: op}
}

// Wrap attaches a Kind, component and operation name to an existing error.
// Returns nil if err is nil.
func Wrap(kind Kind, component, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Component: component, Op: op, Cause: err}
}

// KindOf extracts the Kind from err, or Internal if err doesn't carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// sentinel returns a bare *Error usable as an errors.Is target; the
// exported Err* values below are built with it, e.g.
// errors.Is(err, dafserr.ErrNotFound).
func sentinel(k Kind) error { return &Error{Kind: k} }

var (
	ErrNotFound             = sentinel(NotFound)
	ErrAccessDenied         = sentinel(AccessDenied)
	ErrBadRequest           = sentinel(BadRequest)
	ErrBadCiphertext        = sentinel(BadCiphertext)
	ErrUnauthenticated      = sentinel(Unauthenticated)
	ErrConflict             = sentinel(Conflict)
	ErrTimeout              = sentinel(Timeout)
	ErrNumericalInstability = sentinel(NumericalInstability)
	ErrModelValidation      = sentinel(ModelValidation)
	ErrStorage              = sentinel(Storage)
	ErrNetwork              = sentinel(Network)
	ErrInternal             = sentinel(Internal)
)
</content>
