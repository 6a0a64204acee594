// Package errs defines the signed error taxonomy shared by every layer of
// mimic: compiler passes, the object/.mimi readers and writers, the loader,
// and the kernel's syscall dispatcher. A Code is a wire value (it is
// returned to user programs as a syscall result and negated as a process
// exit code), so it stays a flat int32 enum rather than a wrapped error
// chain; callers that want additional context wrap a Code with
// github.com/pkg/errors at the package boundary instead of here.
package errs

import "fmt"

// Code is the signed error taxonomy from spec.md section 7.
type Code int32

const (
	OK       Code = 0
	NOMEM    Code = -1
	INVAL    Code = -2
	NOENT    Code = -3
	IO       Code = -4
	BUSY     Code = -5
	PERM     Code = -6
	NOSYS    Code = -7
	CORRUPT  Code = -8
	TOOLARGE Code = -9
	NOEXEC   Code = -10
	NOTDIR   Code = -11
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NOMEM:
		return "NOMEM"
	case INVAL:
		return "INVAL"
	case NOENT:
		return "NOENT"
	case IO:
		return "IO"
	case BUSY:
		return "BUSY"
	case PERM:
		return "PERM"
	case NOSYS:
		return "NOSYS"
	case CORRUPT:
		return "CORRUPT"
	case TOOLARGE:
		return "TOOLARGE"
	case NOEXEC:
		return "NOEXEC"
	case NOTDIR:
		return "NOTDIR"
	default:
		return fmt.Sprintf("Code(%d)", int32(c))
	}
}

// Error adapts a Code to the standard error interface so it can travel
// through normal Go error-returning signatures and still be recovered with
// errors.As/Cause at the CLI boundary.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New builds an *Error carrying Code with an explanatory message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ExitCode returns the negated code suitable for a process exit status, per
// spec.md section 6 ("Exit codes: 0 success; non-zero = negated error value").
func (c Code) ExitCode() int {
	return int(-c)
}

// As recovers a Code from err if it (or something it wraps) is an *Error.
// Falls back to IO for an opaque non-nil error so callers always get a
// taxonomy member instead of propagating raw Go errors across the wire
// boundary.
func As(err error) Code {
	if err == nil {
		return OK
	}
	type causer interface{ Cause() error }
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		c, ok := err.(causer)
		if !ok {
			break
		}
		err = c.Cause()
	}
	return IO
}
