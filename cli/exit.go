package cli

import (
	"fmt"
	"regexp"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
)

// Exit codes
const (
	exitSuccess         = 0
	exitFailure         = 1
	exitValidation      = 2
	exitUnauthenticated = 3
	exitForbidden       = 4
	exitNotFound        = 5
	exitRateLimited     = 6
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// callSite matches the "[Type.Method]" prefixes added when wrapping.
var callSite = regexp.MustCompile(`\[[\w.]+\]:? ?`)

// classify maps a failure from the library packages to an exit code and a
// message fit for the terminal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if nerrors.As(err, &exitErr) {
		return err
	}

	wrap := func(code int, msg string) error {
		return &ExitError{Code: code, Message: msg, Err: err}
	}
	switch {
	case nerrors.Is(err, nerrors.ErrNoSession):
		return wrap(exitUnauthenticated, "not signed in or the session expired, run `notifica login`")
	case nerrors.Is(err, nerrors.ErrInvalidCredentials):
		return wrap(exitUnauthenticated, "invalid email or password")
	case nerrors.Is(err, nerrors.ErrEmailNotConfirmed):
		return wrap(exitUnauthenticated, "email not confirmed, check your inbox")
	case nerrors.Is(err, nerrors.ErrNotAdmin):
		return wrap(exitForbidden, "this command is restricted to administrators")
	case nerrors.Is(err, nerrors.ErrRateLimited):
		return wrap(exitRateLimited, "too many attempts, wait a few minutes and try again")
	case nerrors.Is(err, nerrors.ErrValidation):
		return wrap(exitValidation, callSite.ReplaceAllString(err.Error(), ""))
	case nerrors.Is(err, nerrors.ErrNotFound):
		return wrap(exitNotFound, "not found")
	}
	return wrap(exitFailure, callSite.ReplaceAllString(err.Error(), ""))
}
