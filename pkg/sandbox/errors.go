package sandbox

import (
	"errors"
	"fmt"
)

// Kind classifies a sandbox failure. The empty Kind means success.
type Kind string

const (
	KindAccessDenied       Kind = "AccessDenied"
	KindNotFound           Kind = "NotFound"
	KindIO                 Kind = "IOError"
	KindCommandLaunchError Kind = "CommandLaunchError"
	KindTimedOut           Kind = "TimedOut"
)

// AccessDenied is the literal result every contained operation returns on a
// containment violation.
const AccessDenied = "Access denied."

var (
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
	ErrIO           = errors.New("i/o error")
)

// Error is returned by Files operations. It unwraps to both the kind sentinel
// and the underlying filesystem error.
type Error struct {
	Kind Kind
	// Path is the path as supplied by the caller.
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	var sentinel error
	switch e.Kind {
	case KindAccessDenied:
		sentinel = ErrAccessDenied
	case KindNotFound:
		sentinel = ErrNotFound
	default:
		sentinel = ErrIO
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// KindOf reports the Kind carried by err, or KindIO for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindIO
}
