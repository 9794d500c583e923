package errs

import (
	"errors"
	"fmt"
)

var (
	Unauthenticated = NewUnauthenticatedError("unauthenticated")
)

type Error struct {
	Kind    Kind    `json:"kind"`
	Message string  `json:"message"`
	Field   *string `json:"field,omitempty"`
}

type Kind string

const (
	KindInvalidArgument  Kind = "invalid_argument"
	KindNotFound         Kind = "not_found"
	KindAlreadyExists    Kind = "already_exists"
	KindPermissionDenied Kind = "permission_denied"
	KindUnauthenticated  Kind = "unauthenticated"
	KindUnavailable      Kind = "unavailable"
)

// Kinded is implemented by errors that belong to the taxonomy.
type Kinded interface {
	error
	ErrorKind() Kind
}

func NewInvalidArgumentError(field, message string) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Message: message,
		Field:   &field,
	}
}

func NewNotFoundError(message string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: message,
	}
}

func NewAlreadyExistsError(field, message string) *Error {
	return &Error{
		Kind:    KindAlreadyExists,
		Message: message,
		Field:   &field,
	}
}

func NewPermissionDeniedError(message string) *Error {
	return &Error{
		Kind:    KindPermissionDenied,
		Message: message,
	}
}

func NewUnauthenticatedError(message string) *Error {
	return &Error{
		Kind:    KindUnauthenticated,
		Message: message,
	}
}

func NewUnavailableError(message string) *Error {
	return &Error{
		Kind:    KindUnavailable,
		Message: message,
	}
}

func (e *Error) Error() string {
	if e.Field != nil {
		return fmt.Sprintf("%s (field: %s): %s", e.Kind, *e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) ErrorKind() Kind {
	return e.Kind
}

// KindOf returns the kind of the first error in the chain that has one.
func KindOf(err error) (Kind, bool) {
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind(), true
	}
	return "", false
}

func Is(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}

func IsNotFound(err error) bool {
	return Is(err, KindNotFound)
}

func IsPermissionDenied(err error) bool {
	return Is(err, KindPermissionDenied)
}
