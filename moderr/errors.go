// Typed error kinds shared by the moderation pipeline.
//
// Expected-but-abnormal outcomes (a resolution conflict, a duplicate appeal, a missing token) are returned as *Error values carrying a machine-readable Kind, so callers switch on the kind instead of string matching. Anything else (eg, a database failure) is passed through wrapped with fmt.Errorf, and reports KindInternal.
package moderr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation            Kind = "ValidationError"
	KindNotFound              Kind = "NotFound"
	KindForbidden             Kind = "Forbidden"
	KindResolutionConflict    Kind = "ResolutionConflict"
	KindClassifierUnavailable Kind = "ClassifierUnavailable"
	KindDuplicateAppeal       Kind = "DuplicateAppeal"
	KindInternal              Kind = "InternalError"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so `errors.Is(err, moderr.ErrNotFound)` works for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// kind-only sentinels, for use with errors.Is
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrForbidden             = &Error{Kind: KindForbidden}
	ErrResolutionConflict    = &Error{Kind: KindResolutionConflict}
	ErrClassifierUnavailable = &Error{Kind: KindClassifierUnavailable}
	ErrDuplicateAppeal       = &Error{Kind: KindDuplicateAppeal}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindResolutionConflict, Message: fmt.Sprintf(format, args...)}
}

func DuplicateAppeal(format string, args ...any) *Error {
	return &Error{Kind: KindDuplicateAppeal, Message: fmt.Sprintf(format, args...)}
}

func ClassifierUnavailable(err error) *Error {
	return &Error{Kind: KindClassifierUnavailable, Message: "content classification failed", Err: err}
}

// Returns the Kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindInternal
}

// Returns the human-readable message for an error, without any wrapped internal detail.
func MessageOf(err error) string {
	var me *Error
	if errors.As(err, &me) {
		if me.Message != "" {
			return me.Message
		}
		return string(me.Kind)
	}
	return "internal error"
}
